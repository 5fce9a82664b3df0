package transport

import "github.com/pion/webrtc/v4/pkg/media"

// SampleSender writes encoded media samples to a remote peer.
type SampleSender interface {
	WriteSample(s media.Sample) error
}

// InputReceiver receives serialized input messages.
type InputReceiver interface {
	OnInput(callback func(data []byte))
}
