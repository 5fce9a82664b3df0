package capture

import (
	"bytes"
	"errors"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// H.264 NAL unit types that open a new access unit.
const (
	nalSlice    = 1
	nalIDR      = 5
	nalSEI      = 6
	nalSPS      = 7
	nalPPS      = 8
	nalAUD      = 9
	nalTypeMask = 0x1f
)

// AccessUnitReader groups an Annex-B H.264 elementary stream into access
// units, one per picture.
type AccessUnitReader struct {
	nals    *h264reader.H264Reader
	pending [][]byte
	hasVCL  bool
	done    bool
}

// NewAccessUnitReader wraps r.
func NewAccessUnitReader(r io.Reader) (*AccessUnitReader, error) {
	nals, err := h264reader.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &AccessUnitReader{nals: nals}, nil
}

// Next returns the next complete access unit in Annex-B form and whether it
// contains an IDR slice. It returns io.EOF after the final unit.
func (a *AccessUnitReader) Next() ([]byte, bool, error) {
	for !a.done {
		nal, err := a.nals.NextNAL()
		if err != nil {
			a.done = true
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, false, err
		}
		data := nal.Data
		if len(data) == 0 {
			continue
		}
		if a.startsUnit(data) && a.hasVCL {
			unit, key := a.flush()
			a.add(data)
			return unit, key, nil
		}
		a.add(data)
	}
	if len(a.pending) == 0 {
		return nil, false, io.EOF
	}
	unit, key := a.flush()
	return unit, key, nil
}

func (a *AccessUnitReader) startsUnit(nal []byte) bool {
	switch nal[0] & nalTypeMask {
	case nalAUD, nalSPS, nalPPS, nalSEI:
		return true
	case nalSlice, nalIDR:
		// first_mb_in_slice == 0 is coded as a single set bit.
		return len(nal) > 1 && nal[1]&0x80 != 0
	}
	return false
}

func (a *AccessUnitReader) add(nal []byte) {
	t := nal[0] & nalTypeMask
	if t == nalSlice || t == nalIDR {
		a.hasVCL = true
	}
	a.pending = append(a.pending, append([]byte(nil), nal...))
}

func (a *AccessUnitReader) flush() ([]byte, bool) {
	var buf bytes.Buffer
	key := false
	for _, nal := range a.pending {
		if nal[0]&nalTypeMask == nalIDR {
			key = true
		}
		buf.Write(annexBStartCode)
		buf.Write(nal)
	}
	a.pending = a.pending[:0]
	a.hasVCL = false
	return buf.Bytes(), key
}

// OpusReader yields Opus packets from an Ogg stream that carries one packet
// per page.
type OpusReader struct {
	ogg *oggreader.OggReader
}

// NewOpusReader parses the Ogg identification header from r.
func NewOpusReader(r io.Reader) (*OpusReader, error) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return nil, err
	}
	return &OpusReader{ogg: ogg}, nil
}

// Next returns the next audio packet, skipping header pages.
func (o *OpusReader) Next() ([]byte, error) {
	for {
		payload, _, err := o.ogg.ParseNextPage()
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			continue
		}
		if bytes.HasPrefix(payload, []byte("OpusHead")) || bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}
		return payload, nil
	}
}
