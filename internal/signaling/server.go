package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

const (
	offerTimeout = 15 * time.Second
	writeWait    = 5 * time.Second
	pingPeriod   = 25 * time.Second
	pongWait     = 2 * pingPeriod
)

// Offerer answers session offers. *peer.Manager implements it.
type Offerer interface {
	Offer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// Server upgrades HTTP requests to WebSocket signaling connections. Each
// offer received on a connection creates a session and is answered on the
// same connection.
type Server struct {
	offers   Offerer
	upgrader websocket.Upgrader
	log      *slog.Logger
	now      func() time.Time
}

func NewServer(offers Offerer, log *slog.Logger) *Server {
	return &Server{
		offers: offers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log.With("component", "signaling"),
		now: time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "err", err, "remote", r.RemoteAddr)
		return
	}
	c := &client{conn: conn, done: make(chan struct{})}
	s.log.Info("signaling client connected", "remote", r.RemoteAddr)
	go c.pingLoop()
	s.readLoop(r.Context(), c)
	c.close()
	s.log.Info("signaling client disconnected", "remote", r.RemoteAddr)
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (c *client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				s.log.Debug("signaling read", "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.send(s.dispatch(ctx, msg)); err != nil {
			s.log.Debug("signaling write", "err", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg Message) Message {
	switch msg.Type {
	case TypeOffer:
		ctx, cancel := context.WithTimeout(ctx, offerTimeout)
		defer cancel()
		answer, err := s.offers.Offer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP})
		if err != nil {
			s.log.Warn("offer failed", "err", err)
			return Message{Type: TypeError, Msg: err.Error()}
		}
		return Message{Type: TypeAnswer, SDP: answer.SDP}
	case TypePing:
		return Message{Type: TypePong, Timestamp: s.now().UnixMilli()}
	default:
		return Message{Type: TypeError, Msg: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}
