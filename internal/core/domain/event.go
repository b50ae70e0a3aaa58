package domain

type EventType string

const (
	EventServerUp         EventType = "server_up"
	EventServerDown       EventType = "server_down"
	EventServiceFailed    EventType = "service_failed"
	EventServiceRecovered EventType = "service_recovered"
)

// Event records a state transition for a server or one of its watched
// services. ServerName is joined on read only.
type Event struct {
	ID         int64     `json:"id"`
	ServerID   int64     `json:"server_id"`
	ServerName string    `json:"server_name,omitempty"`
	TS         string    `json:"ts"`
	Type       EventType `json:"type"`
	Message    string    `json:"message"`
}

// PrevState is the last observed state of a server, kept so the
// detector can derive transitions. Online is nil until the first pull
// outcome so a fresh server can never manufacture a spurious
// server_down.
type PrevState struct {
	Online   *bool
	Services map[string]string
}
