package encoder

import (
	"fmt"
	"strconv"
	"strings"
)

// Family groups encoder backends that share rate-control options.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyX264
	FamilyVAAPI
	FamilyNVENC
	FamilyAMF
	FamilyQSV
	FamilyVPX
	FamilyOpus
)

func (f Family) String() string {
	switch f {
	case FamilyX264:
		return "x264"
	case FamilyVAAPI:
		return "vaapi"
	case FamilyNVENC:
		return "nvenc"
	case FamilyAMF:
		return "amf"
	case FamilyQSV:
		return "qsv"
	case FamilyVPX:
		return "vpx"
	case FamilyOpus:
		return "opus"
	default:
		return "unknown"
	}
}

// FamilyOf classifies an ffmpeg encoder name.
func FamilyOf(codec string) Family {
	c := strings.ToLower(codec)
	switch {
	case strings.Contains(c, "vaapi"):
		return FamilyVAAPI
	case strings.Contains(c, "nvenc"):
		return FamilyNVENC
	case strings.Contains(c, "amf"):
		return FamilyAMF
	case strings.Contains(c, "qsv"):
		return FamilyQSV
	case strings.Contains(c, "x264"):
		return FamilyX264
	case strings.Contains(c, "vpx"), strings.Contains(c, "vp8"), strings.Contains(c, "vp9"):
		return FamilyVPX
	case strings.Contains(c, "opus"):
		return FamilyOpus
	default:
		return FamilyUnknown
	}
}

// Param is one backend option.
type Param struct {
	Name  string
	Value string
}

// RateControl is the rate-control policy of one encoder family.
type RateControl interface {
	Family() Family
	// Tuning returns the low-latency options applied once at construction.
	Tuning(bps int) []Param
	// Rates returns the options re-applied whenever the effective bitrate
	// changes.
	Rates(bps int) []Param
}

// Rate knob names intercepted by the governor.
const (
	ParamBitrate = "b"
	ParamMinRate = "minrate"
	ParamMaxRate = "maxrate"
	ParamBufSize = "bufsize"
)

func isRateParam(name string) bool {
	switch name {
	case ParamBitrate, ParamMinRate, ParamMaxRate, ParamBufSize:
		return true
	}
	return false
}

func itoa(n int) string { return strconv.Itoa(n) }

func cbrRates(bps, bufDiv int) []Param {
	return []Param{
		{ParamBitrate, itoa(bps)},
		{ParamMinRate, itoa(bps)},
		{ParamMaxRate, itoa(bps)},
		{ParamBufSize, itoa(bps / bufDiv)},
	}
}

// PolicyFor returns the policy for f configured from cfg.
func PolicyFor(f Family, cfg Config) RateControl {
	switch f {
	case FamilyX264:
		preset := cfg.Preset
		if preset == "" {
			preset = "ultrafast"
		}
		return X264Policy{Preset: preset}
	case FamilyVAAPI:
		return VAAPIPolicy{BadConnection: cfg.BadConnection}
	case FamilyNVENC:
		return NVENCPolicy{}
	case FamilyAMF:
		return AMFPolicy{}
	case FamilyQSV:
		return QSVPolicy{}
	case FamilyVPX:
		return VPXPolicy{}
	case FamilyOpus:
		return OpusPolicy{}
	default:
		return GenericPolicy{}
	}
}

// X264Policy drives libx264 with strict HRD CBR and no lookahead.
type X264Policy struct {
	Preset string
}

func (X264Policy) Family() Family { return FamilyX264 }

func (p X264Policy) Tuning(bps int) []Param {
	return []Param{
		{"preset", p.Preset},
		{"tune", "zerolatency"},
		{"profile", "baseline"},
		{"threads", "auto"},
		{"g", "30"},
		{"bf", "0"},
		{"x264-params", x264Params(bps, bps/10000)},
	}
}

func (X264Policy) Rates(bps int) []Param {
	return append(cbrRates(bps, 4), Param{"x264-params", x264Params(bps, bps/120000)})
}

// x264Params is written whole on every apply, so it carries the GOP too.
func x264Params(bps, vbvBuf int) string {
	return fmt.Sprintf("nal-hrd=cbr:force-cfr=1:vbv-maxrate=%d:vbv-bufsize=%d:scenecut=0:bframes=0:ref=1:mbtree=0:rc-lookahead=0:keyint=30",
		bps/1000, max(vbvBuf, 1))
}

// VAAPIPolicy drives h264_vaapi. BadConnection trades quality for smaller
// bursts.
type VAAPIPolicy struct {
	BadConnection bool
}

func (VAAPIPolicy) Family() Family { return FamilyVAAPI }

func (p VAAPIPolicy) Tuning(bps int) []Param {
	quality, async := "4", "4"
	if p.BadConnection {
		quality, async = "7", "1"
	}
	return []Param{
		{"rc_mode", "CBR"},
		{"filler_data", "1"},
		{"quality", quality},
		{"async_depth", async},
		{"g", "30"},
		{"bf", "0"},
		{ParamBitrate, itoa(bps)},
		{ParamMaxRate, itoa(bps)},
		{ParamBufSize, itoa(bps / 8)},
	}
}

func (VAAPIPolicy) Rates(bps int) []Param { return cbrRates(bps, 4) }

// NVENCPolicy drives h264_nvenc in ultra-low-latency CBR.
type NVENCPolicy struct{}

func (NVENCPolicy) Family() Family { return FamilyNVENC }

func (NVENCPolicy) Tuning(bps int) []Param {
	return []Param{
		{"preset", "p1"},
		{"tune", "ull"},
		{"rc", "cbr"},
		{"forced-idr", "1"},
		{"delay", "0"},
		{"zerolatency", "1"},
		{"rc-lookahead", "0"},
		{"cbr_padding", "1"},
		{"g", "30"},
		{"bf", "0"},
		{ParamBitrate, itoa(bps)},
		{ParamMaxRate, itoa(bps)},
		{ParamBufSize, itoa(bps / 10)},
	}
}

func (NVENCPolicy) Rates(bps int) []Param { return cbrRates(bps, 4) }

// AMFPolicy drives h264_amf.
type AMFPolicy struct{}

func (AMFPolicy) Family() Family { return FamilyAMF }

func (AMFPolicy) Tuning(bps int) []Param {
	return []Param{
		{"usage", "ultralowlatency"},
		{"quality", "speed"},
		{"rc", "cbr"},
		{"filler_data", "1"},
		{"g", "30"},
		{"bf", "0"},
		{ParamBitrate, itoa(bps)},
		{ParamMaxRate, itoa(bps)},
	}
}

func (AMFPolicy) Rates(bps int) []Param { return cbrRates(bps, 4) }

// QSVPolicy drives h264_qsv.
type QSVPolicy struct{}

func (QSVPolicy) Family() Family { return FamilyQSV }

func (QSVPolicy) Tuning(bps int) []Param {
	return []Param{
		{"preset", "veryfast"},
		{"async_depth", "1"},
		{"look_ahead", "0"},
		{"g", "30"},
		{"bf", "0"},
		{ParamBitrate, itoa(bps)},
		{ParamMaxRate, itoa(bps)},
	}
}

func (QSVPolicy) Rates(bps int) []Param { return cbrRates(bps, 4) }

// VPXPolicy drives libvpx in realtime CBR.
type VPXPolicy struct{}

func (VPXPolicy) Family() Family { return FamilyVPX }

func (VPXPolicy) Tuning(bps int) []Param {
	return []Param{
		{"deadline", "realtime"},
		{"cpu-used", "8"},
		{"lag-in-frames", "0"},
		{"undershoot-pct", "0"},
		{"overshoot-pct", "0"},
		{"static-thresh", "0"},
		{"g", "30"},
		{ParamMinRate, itoa(bps)},
		{ParamMaxRate, itoa(bps)},
	}
}

func (VPXPolicy) Rates(bps int) []Param {
	return []Param{
		{ParamBitrate, itoa(bps)},
		{ParamMinRate, itoa(bps)},
		{ParamMaxRate, itoa(bps)},
	}
}

// OpusPolicy drives libopus for low-delay voice and music.
type OpusPolicy struct{}

func (OpusPolicy) Family() Family { return FamilyOpus }

func (OpusPolicy) Tuning(bps int) []Param {
	return []Param{
		{"application", "lowdelay"},
		{"frame_duration", "20"},
		{ParamBitrate, itoa(bps)},
	}
}

func (OpusPolicy) Rates(bps int) []Param {
	return []Param{{ParamBitrate, itoa(bps)}}
}

// GenericPolicy only sets the bitrate.
type GenericPolicy struct{}

func (GenericPolicy) Family() Family { return FamilyUnknown }

func (GenericPolicy) Tuning(int) []Param { return nil }

func (GenericPolicy) Rates(bps int) []Param { return cbrRates(bps, 4) }
