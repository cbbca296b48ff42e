package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBuffer     = 64
	leaveTimeout   = 5 * time.Second
)

type WSHandler struct {
	service  *app.LiveService
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.LiveService, hub *Hub) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Code        string `json:"code"`
	DisplayName string `json:"displayName"`
	PlayerID    string `json:"playerId"`
}

type codePayload struct {
	Code string `json:"code"`
}

type submitPayload struct {
	Code          string               `json:"code"`
	QuestionIndex *int                 `json:"questionIndex"`
	Answer        domain.AnswerPayload `json:"answer"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// client is one WebSocket connection. It implements app.Conn; sends never
// block the caller and are dropped when the buffer is full.
type client struct {
	conn *websocket.Conn
	send chan outboundMessage[any]

	mu     sync.Mutex
	closed bool

	// session binding, only touched by the read loop
	code     string
	playerID string
}

func (c *client) Send(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- outboundMessage[any]{Type: event, Payload: payload}:
	default:
		log.Printf("ws: send buffer full, dropping %s", event)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS upgrades the request and dispatches inbound operations to the live service.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan outboundMessage[any], sendBuffer)}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws read error: %v", err)
			}
			break
		}
		if err := h.dispatch(ctx, c, inbound); err != nil {
			c.Send(domain.EventError, app.NewErrorPayload(err))
		}
	}

	h.leave(c)
	c.close()
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, c *client, in inboundMessage) error {
	switch in.Type {
	case "join":
		var p joinPayload
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
		code := domain.SanitizeCode(p.Code)
		resume := p.PlayerID
		if resume == "" && c.code == code {
			// a repeated join on the same socket keeps its identity
			resume = c.playerID
		}
		if c.code != "" && (c.code != code || resume != c.playerID) {
			h.leave(c)
		}
		res, err := h.service.Join(ctx, c, code, p.DisplayName, resume)
		if err != nil {
			return err
		}
		c.code, c.playerID = res.Code, res.PlayerID
		return nil
	case "start", "next", "end":
		var p codePayload
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
		code, err := c.bound(p.Code)
		if err != nil {
			return err
		}
		switch in.Type {
		case "start":
			return h.service.Start(ctx, code, c.playerID)
		case "next":
			return h.service.Next(ctx, code, c.playerID)
		default:
			return h.service.End(ctx, code, c.playerID)
		}
	case "submitAnswer":
		var p submitPayload
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
		if p.QuestionIndex == nil {
			return fmt.Errorf("%w: questionIndex required", domain.ErrInvalidInput)
		}
		code, err := c.bound(p.Code)
		if err != nil {
			return err
		}
		_, err = h.service.SubmitAnswer(ctx, c, code, c.playerID, *p.QuestionIndex, p.Answer)
		return err
	case "getState":
		var p codePayload
		if err := decode(in.Payload, &p); err != nil {
			return err
		}
		if p.Code == "" {
			p.Code = c.code
		}
		_, err := h.service.GetState(ctx, c, p.Code)
		return err
	case "leave":
		h.leave(c)
		return nil
	}
	return fmt.Errorf("%w: unsupported message type %q", domain.ErrInvalidInput, in.Type)
}

// bound checks that the caller joined the session it addresses.
func (c *client) bound(code string) (string, error) {
	code = domain.SanitizeCode(code)
	if c.playerID == "" || (code != "" && code != c.code) {
		return "", domain.ErrNotJoined
	}
	return c.code, nil
}

func (h *WSHandler) leave(c *client) {
	if c.code == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := h.service.Leave(ctx, c, c.code, c.playerID); err != nil {
		log.Printf("ws: leave %s: %v", c.code, err)
	}
	c.code, c.playerID = "", ""
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				// unblock the read loop so the connection is cleaned up
				_ = c.conn.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				c.drain()
				return
			}
		}
	}
}

// drain discards queued messages until the read loop closes the channel.
func (c *client) drain() {
	for range c.send {
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload required", domain.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
