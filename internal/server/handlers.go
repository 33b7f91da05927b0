package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/protocol"
)

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(protocol.ErrInvalidMessage, "Failed to parse message")
		return
	}

	if err := c.dispatchMessage(msg); err != nil {
		c.logger.WithError(err).WithField("type", msg.Type).Warn("Console request failed")
	}
}

// dispatchMessage routes one console message. Errors have already been
// reported to the client.
func (c *Client) dispatchMessage(msg protocol.Message) error {
	s := c.server
	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		if sess := c.session(); sess != nil {
			return c.report(protocol.ErrPreview, sess.SetAnswer(payload.SDP))
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		if sess := c.session(); sess != nil {
			return c.report(protocol.ErrPreview, sess.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex))
		}

	case protocol.TypePTZCommand:
		var payload protocol.PTZCommandPayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		return c.report(protocol.ErrCommand, s.deps.Controller.PanTilt(payload.Pan, payload.Tilt))

	case protocol.TypePTZStop:
		return c.report(protocol.ErrCommand, s.deps.Controller.Stop())

	case protocol.TypePTZGoto:
		var payload protocol.PTZGotoPayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		return c.report(protocol.ErrCommand, c.handleGoto(payload))

	case protocol.TypePTZAction:
		var payload protocol.PTZActionPayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		return c.report(protocol.ErrCommand, c.handleAction(payload.Action))

	case protocol.TypePTZStep:
		var payload protocol.PTZStepPayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		if err := c.report(protocol.ErrInvalidConfig, c.handleStep(payload.Step)); err != nil {
			return err
		}
		s.broadcastStatus()

	case protocol.TypeTracking:
		var payload protocol.TrackingPayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		if s.deps.Tracker == nil {
			return c.report(protocol.ErrCommand, fmt.Errorf("tracking is not configured"))
		}
		s.deps.Tracker.SetEnabled(payload.Enabled)
		s.broadcastStatus()

	case protocol.TypeLinkConfig:
		var payload protocol.LinkConfigPayload
		if err := c.parse(msg, &payload); err != nil {
			return err
		}
		if err := c.report(protocol.ErrInvalidConfig, c.handleLinkConfig(payload)); err != nil {
			return err
		}
		s.broadcastStatus()

	default:
		c.sendError(protocol.ErrInvalidMessage, "Unknown message type: "+msg.Type)
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

func (c *Client) parse(msg protocol.Message, v any) error {
	if err := msg.ParsePayload(v); err != nil {
		c.sendError(protocol.ErrInvalidMessage, "Invalid "+msg.Type+" payload")
		return err
	}
	return nil
}

// report forwards err to the client and returns it.
func (c *Client) report(code string, err error) error {
	if err != nil {
		c.sendError(code, err.Error())
	}
	return err
}

func (c *Client) handleGoto(p protocol.PTZGotoPayload) error {
	ctrl := c.server.deps.Controller
	switch p.Axis {
	case protocol.AxisPan:
		return ctrl.PanTo(p.Position)
	case protocol.AxisTilt:
		return ctrl.TiltTo(p.Position)
	default:
		return fmt.Errorf("unknown axis %q", p.Axis)
	}
}

func (c *Client) handleAction(action string) error {
	ctrl := c.server.deps.Controller
	switch action {
	case protocol.ActionPing:
		return ctrl.Ping()
	case protocol.ActionSelfTest:
		return ctrl.SelfTest()
	case protocol.ActionReset:
		return ctrl.Reset()
	case protocol.ActionCancel:
		return ctrl.Stop()
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// handleStep applies the slider value to operator moves and the tracker.
func (c *Client) handleStep(step int) error {
	if err := c.server.deps.Controller.SetStep(step); err != nil {
		return err
	}
	if t := c.server.deps.Tracker; t != nil {
		return t.SetStep(step)
	}
	return nil
}

func (c *Client) handleLinkConfig(p protocol.LinkConfigPayload) error {
	link := c.server.deps.Link
	settings := link.Settings()
	if p.Port != "" {
		settings.Port = p.Port
	}
	if p.BaudRate != 0 {
		settings.BaudRate = p.BaudRate
	}
	if err := link.UpdateSettings(settings); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"port":      settings.Port,
		"baud_rate": settings.BaudRate,
	}).Info("Link settings changed")
	return nil
}
