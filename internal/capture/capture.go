package capture

import "errors"

// Kind identifies the media a track produces.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Mode selects how the capture process output is interpreted.
type Mode int

const (
	// ModeRaw reads fixed-size uncompressed frames (I420 video, s16le audio).
	ModeRaw Mode = iota
	// ModeEncoded demuxes pre-encoded packets (H.264 Annex-B, Ogg/Opus).
	ModeEncoded
)

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeEncoded:
		return "encoded"
	default:
		return "unknown"
	}
}

// ErrTrackEnded is returned by Receive once the track has been stopped.
var ErrTrackEnded = errors.New("capture: track ended")

// Queue capacities for the drop-oldest buffers.
const (
	RawAudioQueueSize = 15
	EncodedQueueSize  = 50
)
