package contracts

import "time"

// Message types sent by the client.
const (
	TypeGetEvents   = "get_events"
	TypeCreateEvent = "create_event"
	TypeUpdateEvent = "update_event"
	TypeDeleteEvent = "delete_event"
	TypeViewRange   = "view_range"
	TypePing        = "ping"
)

// Message types pushed by the server.
const (
	TypeEvents       = "events"
	TypeEventsList   = "events_list"
	TypeEventCreated = "event_created"
	TypeEventUpdated = "event_updated"
	TypeEventDeleted = "event_deleted"
	TypeOnlineUsers  = "online_users"
	TypePong         = "pong"
	TypeError        = "error"
)

// DateLayout is the wire format of calendar days.
const DateLayout = "2006-01-02"

// TimeLayout is the wire format of the optional clock value.
const TimeLayout = "15:04"

// Event is a calendar entry as the server knows it. ID is empty on drafts.
type Event struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// ClientMessage is a frame sent from the client to the server.
type ClientMessage struct {
	Type      string `json:"type"`
	Event     *Event `json:"event,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// ServerMessage is a frame pushed from the server to the client.
type ServerMessage struct {
	Type    string  `json:"type"`
	Events  []Event `json:"events,omitempty"`
	Event   *Event  `json:"event,omitempty"`
	EventID string  `json:"event_id,omitempty"`
	Count   int     `json:"count,omitempty"`
	Message string  `json:"message,omitempty"`
}

// EventChange is published on the message bus whenever the server mutates an event,
// so every server replica can fan the change out to its own clients.
type EventChange struct {
	ChangeID string `json:"change_id"`
	Origin   string `json:"origin"`
	Type     string `json:"type"`
	Event    Event  `json:"event"`
	// PreviousDate is the event's date before an update moved it.
	PreviousDate string    `json:"previous_date,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Palette lists the colour tags an event may carry.
var Palette = []string{"blue", "red", "green", "yellow", "purple", "pink", "indigo", "gray"}

// DefaultColor is used when a draft carries no colour.
const DefaultColor = "blue"

// ValidColor reports whether c is part of the palette.
func ValidColor(c string) bool {
	for _, p := range Palette {
		if p == c {
			return true
		}
	}
	return false
}
