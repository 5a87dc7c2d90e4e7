package domain

import "time"

// EventType identifies a session lifecycle event
type EventType string

const (
	EventTypeSessionCreated    EventType = "session_created"
	EventTypeRoundPlayed       EventType = "round_played"
	EventTypeSessionClosed     EventType = "session_closed"
	EventTypeChannelOpened     EventType = "channel_opened"
	EventTypeChannelClosed     EventType = "channel_closed"
	EventTypeAnchorCommit      EventType = "anchor_commit"
	EventTypeAnchorReveal      EventType = "anchor_reveal"
	EventTypeFairnessViolation EventType = "fairness_violation"
)

// Event is published on the event bus for every session state change and
// for anchor jobs consumed by the background workers.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event bus topics.
const (
	TopicSessionEvents = "session.events"
	TopicAnchorJobs    = "anchor.jobs"
)
