package command

import "encoding/json"

// Status is the terminal state of one command execution.
type Status int

const (
	StatusSuccess Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is produced exactly once per execution.
type Outcome struct {
	Status Status
	// Reason is set for failures.
	Reason string
}

func Succeeded() Outcome { return Outcome{Status: StatusSuccess} }

func Cancelled() Outcome { return Outcome{Status: StatusCancelled} }

func Failed(reason string) Outcome { return Outcome{Status: StatusFailed, Reason: reason} }

// Message renders the status line shown to operators.
func (o Outcome) Message() string {
	switch o.Status {
	case StatusSuccess:
		return "Operation completed successfully"
	case StatusCancelled:
		if o.Reason != "" {
			return "Operation cancelled: " + o.Reason
		}
		return "Operation cancelled (no errors)"
	default:
		return o.Reason
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status  Status `json:"status"`
		Reason  string `json:"reason,omitempty"`
		Message string `json:"message"`
	}{o.Status, o.Reason, o.Message()})
}
