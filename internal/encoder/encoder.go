package encoder

import (
	"errors"
	"sync"

	"github.com/junsooki/neon/internal/capture"
)

// ErrUnsupportedParam is returned by SetParam for knobs a backend lacks.
var ErrUnsupportedParam = errors.New("encoder: unsupported parameter")

// ErrClosed is returned by Encode after Close.
var ErrClosed = errors.New("encoder: closed")

// Encoder turns captured frames into compressed packets.
type Encoder interface {
	// Encode returns the packets produced so far; it may return none while
	// the backend is still filling its pipeline.
	Encode(frame *capture.Frame, forceKeyframe bool) ([][]byte, error)

	// SetParam sets a backend option by its ffmpeg name.
	SetParam(name, value string) error

	// Param reads back a backend option.
	Param(name string) (string, bool)

	// Codec returns the backend codec name, e.g. "libx264".
	Codec() string

	Close() error
}

// Passthrough forwards pre-encoded payloads and rejects raw frames. It backs
// tracks whose capture process already encodes.
type Passthrough struct {
	codec string

	mu     sync.Mutex
	params map[string]string
}

// NewPassthrough creates a Passthrough reporting codec as its name.
func NewPassthrough(codec string) *Passthrough {
	return &Passthrough{codec: codec, params: make(map[string]string)}
}

func (p *Passthrough) Encode(frame *capture.Frame, _ bool) ([][]byte, error) {
	if !frame.Encoded() {
		return nil, errors.New("encoder: passthrough got a raw frame")
	}
	return frame.Payload, nil
}

// SetParam records the value; the upstream process is not reconfigured.
func (p *Passthrough) SetParam(name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params[name] = value
	return nil
}

func (p *Passthrough) Param(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.params[name]
	return v, ok
}

func (p *Passthrough) Codec() string { return p.codec }

func (p *Passthrough) Close() error { return nil }
