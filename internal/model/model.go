// Package model defines data structure.
package model

import "time"

// User is the identity of a signed-in participant. The server owns the id;
// the client persists it locally to restore the session across runs.
type User struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	AboutMe     string   `json:"aboutMe"`
	Interests   []string `json:"interests,omitempty"`
}

// Forum is a topic-scoped discussion room. The client holds a read-mostly
// cached copy; the server is authoritative.
type Forum struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Topic        string `json:"topic"`
	Host         string `json:"host"`
	Participants int    `json:"participants"`
}

// Message holds information about a single message.
type Message struct {
	ID        string    `json:"id"`
	ForumID   string    `json:"forumId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Edited    bool      `json:"edited,omitempty"`

	// System marks a locally synthesized line (join/leave notices). Never
	// sent over the wire.
	System bool `json:"-"`
}

// PendingMessage is an outbox entry queued while offline, replayed in
// enqueue order once connectivity returns.
type PendingMessage struct {
	ForumID  string    `json:"forumId"`
	UserID   string    `json:"userId"`
	Text     string    `json:"text"`
	QueuedAt time.Time `json:"queuedAt"`
}
