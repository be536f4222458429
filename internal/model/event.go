package model

// Push event types delivered on the SSE channel.
const (
	EventMessage        = "message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventTyping         = "typing"
	EventForumCreated   = "forum_created"
)

// Event is a tagged push-channel record. Type is the only required field;
// the rest of the payload depends on it. Records missing Type are dropped
// by the channel reader.
type Event struct {
	Type string `json:"type"`

	// Room-scoped events carry the forum they belong to.
	ForumID string `json:"forumId,omitempty"`

	// message
	Message *Message `json:"message,omitempty"`

	// message_edited, message_deleted
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text,omitempty"`

	// user_joined, user_left, typing
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
	Participants int    `json:"participants,omitempty"`
	Typing       bool   `json:"typing,omitempty"`

	// forum_created
	Forum *Forum `json:"forum,omitempty"`
}
