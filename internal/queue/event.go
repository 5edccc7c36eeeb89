// Package queue defines message payloads exchanged over the message broker
// and the audit consumer that records them.
package queue

import "time"

// EventType names a domain event.
type EventType string

const (
	EventUserRegistered   EventType = "user.registered"
	EventUserLoggedIn     EventType = "user.logged_in"
	EventSessionsRevoked  EventType = "user.sessions_revoked"
	EventPasswordChanged  EventType = "user.password_changed"
	EventUserDeactivated  EventType = "user.deactivated"
	EventFileUploaded     EventType = "file.uploaded"
	EventFileDeleted      EventType = "file.deleted"
	EventFileShareCreated EventType = "file.share_created"
)

// Event is published after a state change succeeds. It carries enough
// context for an audit trail without querying the primary database, and
// never carries secrets such as passwords or token values.
type Event struct {
	Type       EventType `json:"type"`
	UserID     uint64    `json:"user_id"`
	Username   string    `json:"username,omitempty"`
	FileID     uint64    `json:"file_id,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Count      int64     `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
