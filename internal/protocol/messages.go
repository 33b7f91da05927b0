package protocol

import "encoding/json"

// Message types
const (
	TypePing         = "ping"
	TypePong         = "pong"
	TypeStatus       = "status"
	TypeOutcome      = "outcome"
	TypeOverlay      = "overlay"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"
	TypePTZCommand   = "ptz_command"
	TypePTZStop      = "ptz_stop"
	TypePTZGoto      = "ptz_goto"
	TypePTZAction    = "ptz_action"
	TypePTZStep      = "ptz_step"
	TypeTracking     = "tracking"
	TypeLinkConfig   = "link_config"
	TypeError        = "error"
)

// Actions carried by ptz_action
const (
	ActionPing     = "ping"
	ActionSelfTest = "self_test"
	ActionReset    = "reset"
	ActionCancel   = "cancel"
)

// Axes carried by ptz_goto
const (
	AxisPan  = "pan"
	AxisTilt = "tilt"
)

// Error codes
const (
	ErrLinkUnavailable = "LINK_UNAVAILABLE"
	ErrPreview         = "PREVIEW_ERROR"
	ErrCommand         = "COMMAND_ERROR"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrInvalidConfig   = "INVALID_CONFIG"
)

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload describes the link, the tracker and the in-flight command
type StatusPayload struct {
	Port            string `json:"port"`
	BaudRate        int    `json:"baud_rate"`
	Destination     string `json:"destination"`
	LinkHeld        bool   `json:"link_held"`
	Transactions    uint64 `json:"transactions"`
	InFlight        string `json:"in_flight,omitempty"`
	CanCancel       bool   `json:"can_cancel"`
	LastMessage     string `json:"last_message,omitempty"`
	Step            int    `json:"step"`
	Tracking        bool   `json:"tracking"`
	TrackingReady   bool   `json:"tracking_ready"`
	PreviewURL      string `json:"preview_url,omitempty"`
	PreviewLive     bool   `json:"preview_live"`
}

// OutcomePayload reports a command starting or finishing
type OutcomePayload struct {
	Kind      string `json:"kind"`
	TicketID  string `json:"ticket_id"`
	Command   string `json:"command"`
	Data      int    `json:"data"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	CanCancel bool   `json:"can_cancel"`
}

// OverlayBox is a detection rectangle in frame coordinates
type OverlayBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// OverlayPayload carries detections for the console to draw over the video
type OverlayPayload struct {
	Seq         uint64       `json:"seq"`
	FrameWidth  int          `json:"frame_width"`
	FrameHeight int          `json:"frame_height"`
	Boxes       []OverlayBox `json:"boxes"`
	Target      *OverlayBox  `json:"target,omitempty"`
	Command     string       `json:"command,omitempty"`
	Tracking    bool         `json:"tracking"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// PTZCommandPayload for joystick moves
type PTZCommandPayload struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
}

// PTZGotoPayload for absolute moves
type PTZGotoPayload struct {
	Axis     string `json:"axis"`
	Position int    `json:"position"`
}

// PTZActionPayload for the fixed console buttons
type PTZActionPayload struct {
	Action string `json:"action"`
}

// PTZStepPayload sets the relative move size
type PTZStepPayload struct {
	Step int `json:"step"`
}

// TrackingPayload toggles automatic tracking
type TrackingPayload struct {
	Enabled bool `json:"enabled"`
}

// LinkConfigPayload changes the serial link settings. Zero values keep the
// current setting.
type LinkConfigPayload struct {
	Port     string `json:"port,omitempty"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
