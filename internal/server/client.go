package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/protocol"
	"pantilt-tracker/internal/tracking"
	"pantilt-tracker/internal/webrtc"
)

// Client represents a connected console
type Client struct {
	conn     *websocket.Conn
	server   *Server
	logger   *logrus.Entry
	webrtc   *webrtc.Session
	send     chan []byte
	overlays *tracking.Mailbox[protocol.OverlayPayload]

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *Server) newClient(conn *websocket.Conn, operator string) *Client {
	ctx, cancel := context.WithCancel(s.ctx)
	return &Client{
		conn:   conn,
		server: s,
		logger: s.logger.WithFields(logrus.Fields{
			"client":   uuid.NewString()[:8],
			"operator": operator,
		}),
		send:     make(chan []byte, 256),
		overlays: tracking.NewMailbox[protocol.OverlayPayload](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	operator, err := s.authorize(r)
	if err != nil {
		s.logger.WithError(err).WithField("remote", r.RemoteAddr).Warn("Console connection rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	client := s.newClient(conn, operator)
	s.addClient(client)
	client.logger.WithField("remote", r.RemoteAddr).Info("Console connected")

	go client.writePump()
	go client.readPump()
	go client.overlayPump()

	client.sendMessage(protocol.TypeStatus, s.status())

	if s.deps.Preview != nil {
		if err := client.initWebRTC(); err != nil {
			client.logger.WithError(err).Warn("Failed to initialize preview")
			client.sendError(protocol.ErrPreview, err.Error())
		}
	}
}

func (c *Client) initWebRTC() error {
	session, err := webrtc.NewSession(c.server.webrtcConfig(), func(candidate pwebrtc.ICECandidateInit) {
		payload := protocol.ICECandidatePayload{Candidate: candidate.Candidate}
		if candidate.SDPMid != nil {
			payload.SDPMid = *candidate.SDPMid
		}
		if candidate.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *candidate.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	}, c.logger)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close()
		return nil
	}
	c.webrtc = session
	c.mu.Unlock()

	if err := session.AddH264Track(); err != nil {
		return err
	}

	offer, err := session.CreateOffer()
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})

	packets, unsubscribe := c.server.deps.Preview.Subscribe(500)
	go func() {
		defer unsubscribe()
		if err := session.Forward(packets, c.ctx.Done()); err != nil {
			c.logger.WithError(err).Debug("Preview forwarding stopped")
		}
	}()
	return nil
}

func (c *Client) session() *webrtc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webrtc
}

func (c *Client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.logger.WithError(err).Error("Failed to create message")
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.WithField("type", msgType).Warn("Client send buffer full, dropping message")
	}
}

func (c *Client) sendError(code, message string) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

func (c *Client) overlayPump() {
	for {
		payload, err := c.overlays.Next(c.ctx)
		if err != nil {
			return
		}
		c.sendMessage(protocol.TypeOverlay, payload)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
		c.logger.Info("Console disconnected")
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("WebSocket error")
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	c.overlays.Close()

	if c.webrtc != nil {
		c.webrtc.Close()
		c.webrtc = nil
	}

	close(c.send)
}
