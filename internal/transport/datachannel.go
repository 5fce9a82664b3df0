package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// DataChannelTransport collects the data channels a remote peer opens and
// delivers their messages to a single input callback. Messages that arrive
// before a callback is set are dropped.
type DataChannelTransport struct {
	mu       sync.Mutex
	channels []*webrtc.DataChannel
	onInput  func(data []byte)
}

// NewDataChannelTransport returns an empty transport; channels are added with
// Attach as the peer announces them.
func NewDataChannelTransport() *DataChannelTransport {
	return &DataChannelTransport{}
}

// Attach starts routing messages from dc.
func (t *DataChannelTransport) Attach(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.channels = append(t.channels, dc)
	t.mu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.deliver(msg.Data)
	})
}

func (t *DataChannelTransport) OnInput(cb func(data []byte)) {
	t.mu.Lock()
	t.onInput = cb
	t.mu.Unlock()
}

func (t *DataChannelTransport) deliver(data []byte) {
	t.mu.Lock()
	cb := t.onInput
	t.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Labels returns the labels of the attached channels.
func (t *DataChannelTransport) Labels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	labels := make([]string, 0, len(t.channels))
	for _, dc := range t.channels {
		labels = append(labels, dc.Label())
	}
	return labels
}
