package messaging

import "time"

// EventType identifies what a provider Event carries.
type EventType int

const (
	// EventToken carries a freshly issued or refreshed delivery token.
	EventToken EventType = iota + 1
	// EventNotification carries a notification received while in the foreground.
	EventNotification
	// EventAction carries a notification the user acted on.
	EventAction
	// EventError carries a delivery or registration failure.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventToken:
		return "token"
	case EventNotification:
		return "notification"
	case EventAction:
		return "action"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted asynchronously by a Provider.
type Event struct {
	Type         EventType
	Token        string
	Notification *Notification
	Err          error
}

// Notification is an inbound push message.
type Notification struct {
	ID    string            `json:"id,omitempty"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
	// Action is the identifier of the action the user performed, if any.
	Action     string    `json:"action,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
