package signaling

// Message types for the signaling protocol.
const (
	TypeOffer  = "offer"
	TypeAnswer = "answer"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeError  = "error"
)

// Message is the envelope for all signaling messages.
type Message struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp,omitempty"`
	Msg       string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
