package hub

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Session defaults: ping cadence, the bounded write timeout, and the
// outbox size and enqueue timeout used by queueOut. The pong tolerance
// is derived from the ping interval in pongWait.
const (
	pingInterval     = 30 * time.Second
	writeWait        = 10 * time.Second
	outboxBufferSize = 256
	queueOutTimeout  = 50 * time.Microsecond
)

// Session represents one live bidirectional client connection,
// authenticated to exactly one user identifier. Each session runs one
// read task and one write task; all socket writes go through the write
// task so they never interleave.
type Session struct {
	id     string
	userID string
	ws     *websocket.Conn

	send chan []byte
	stop chan struct{}

	userAgent string

	pingInterval time.Duration
	writeWait    time.Duration
}

func newSession(id, userID, userAgent string, ws *websocket.Conn, ping, write time.Duration) *Session {
	if ping <= 0 {
		ping = pingInterval
	}
	if write <= 0 {
		write = writeWait
	}
	return &Session{
		id:           id,
		userID:       userID,
		userAgent:    userAgent,
		ws:           ws,
		send:         make(chan []byte, outboxBufferSize),
		stop:         make(chan struct{}),
		pingInterval: ping,
		writeWait:    write,
	}
}

// pongWait is how long a read may sit idle before the connection is
// presumed dead: three missed pings plus slack.
func (s *Session) pongWait() time.Duration {
	return s.pingInterval*3 + 5*time.Second
}

// queueOut attempts to enqueue a pre-serialized frame for this session's
// write loop. If the outbox is full, the attempt times out quickly
// rather than blocking the caller: a slow client drops frames instead of
// stalling fan-out to everyone else.
func (s *Session) queueOut(frame ServerFrame) bool {
	body, err := json.Marshal(frame)
	if err != nil {
		log.Printf("hub: session %s failed to serialize frame: %v", s.id, err)
		return false
	}
	select {
	case s.send <- body:
		return true
	case <-time.After(queueOutTimeout):
		log.Printf("hub: session %s queueOut timeout, outbox full", s.id)
		return false
	}
}

// writable reports whether the session's socket is still believed open.
func (s *Session) writable() bool {
	select {
	case <-s.stop:
		return false
	default:
		return true
	}
}

// readLoop decodes inbound frames and forwards TYPING_INDICATOR to
// onTyping; all other frame types are ignored.
func (s *Session) readLoop(onTyping func(chatID string, isTyping bool), onClose func()) {
	defer onClose()

	s.ws.SetReadDeadline(time.Now().Add(s.pongWait()))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(s.pongWait()))
		return nil
	})

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("hub: session %s sent malformed frame: %v", s.id, err)
			continue
		}

		if frame.Type != TypeTypingIndicator {
			// Unknown or unsupported frame type from a client; ignored.
			continue
		}

		var payload TypingIndicatorPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			continue
		}
		onTyping(payload.ChatID, payload.IsTyping)
	}
}

// writeLoop serializes all outbound writes to the socket: the local
// outbox and periodic pings. A partial write tears the session down.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	defer s.ws.Close()

	for {
		select {
		case body, ok := <-s.send:
			if !ok {
				s.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			s.ws.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.stop:
			return
		}
	}
}

// close signals the write loop to stop and drops any pending outbound
// events.
func (s *Session) close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}
