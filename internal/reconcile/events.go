package reconcile

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/parleychat/parley/internal/model"
)

var (
	ErrNotInRoom     = errors.New("reconcile: not inside a forum")
	ErrNoSuchMessage = errors.New("reconcile: no such message")
)

// Apply translates a single push event into a state mutation. Room-scoped
// events for a forum other than the current membership are silently
// discarded; there is no buffering for background rooms. Unrecognized types
// are logged only.
func (r *Reconciler) Apply(ev model.Event) {
	switch ev.Type {
	case model.EventForumCreated:
		// Global: not gated by room membership.
		r.applyForumCreated(ev)
		return

	case model.EventTyping:
		// Gated inside the handler, not here.
		r.applyTyping(ev)
		return
	}

	r.mu.Lock()
	inRoom := r.room != nil && r.room.ID == ev.ForumID
	r.mu.Unlock()
	if !inRoom {
		return
	}

	switch ev.Type {
	case model.EventMessage:
		r.applyMessage(ev)
	case model.EventMessageEdited:
		r.applyEdited(ev)
	case model.EventMessageDeleted:
		r.applyDeleted(ev)
	case model.EventUserJoined:
		r.applyPresence(ev, true)
	case model.EventUserLeft:
		r.applyPresence(ev, false)
	default:
		log.Printf("reconcile: ignoring unrecognized event type %q", ev.Type)
	}
}

func (r *Reconciler) applyMessage(ev model.Event) {
	if ev.Message == nil {
		log.Printf("reconcile: message event with no message payload")
		return
	}

	r.mu.Lock()
	appended := r.appendLocked(*ev.Message)
	// A message from a participant supersedes their typing indicator even
	// if the stop signal got lost.
	_, wasTyping := r.typing[ev.Message.UserID]
	delete(r.typing, ev.Message.UserID)
	names := r.typingNamesLocked()
	r.mu.Unlock()

	if appended {
		r.view.AppendMessage(*ev.Message)
	}
	if wasTyping {
		r.view.SetTyping(names)
	}
}

func (r *Reconciler) applyEdited(ev model.Event) {
	r.mu.Lock()
	updated := r.patchLocked(ev.MessageID, ev.Text)
	r.mu.Unlock()

	// Absent id or identical text: the echo of an edit already applied
	// optimistically, or an edit for a message since deleted. No-op.
	if updated != nil {
		r.view.UpdateMessage(*updated)
	}
}

func (r *Reconciler) applyDeleted(ev model.Event) {
	r.mu.Lock()
	removed := r.removeLocked(ev.MessageID)
	r.mu.Unlock()

	if removed {
		r.view.RemoveMessage(ev.MessageID)
	}
}

func (r *Reconciler) applyPresence(ev model.Event, joined bool) {
	verb := "left"
	if joined {
		verb = "joined"
	}

	msg := model.Message{
		ForumID:   ev.ForumID,
		UserID:    ev.UserID,
		Username:  ev.Username,
		Text:      fmt.Sprintf("%s %s the discussion", ev.Username, verb),
		CreatedAt: time.Now().UTC(),
		System:    true,
	}

	r.mu.Lock()
	r.messages = append(r.messages, msg)
	if r.room != nil {
		r.room.Participants = ev.Participants
	}
	if !joined {
		delete(r.typing, ev.UserID)
	}
	r.mu.Unlock()

	r.view.AppendMessage(msg)
}

func (r *Reconciler) applyTyping(ev model.Event) {
	r.mu.Lock()
	if r.room == nil || r.room.ID != ev.ForumID || ev.UserID == r.user.ID {
		r.mu.Unlock()
		return
	}

	if ev.Typing {
		r.typing[ev.UserID] = typingEntry{name: ev.Username, seen: time.Now()}
	} else {
		delete(r.typing, ev.UserID)
	}
	names := r.typingNamesLocked()
	r.mu.Unlock()

	r.view.SetTyping(names)
}

func (r *Reconciler) applyForumCreated(ev model.Event) {
	if ev.Forum == nil {
		log.Printf("reconcile: forum_created event with no forum payload")
		return
	}

	r.mu.Lock()
	r.forums = append([]model.Forum{*ev.Forum}, r.forums...)
	r.mu.Unlock()

	r.view.PrependForum(*ev.Forum)
}

// evictStaleTyping drops indicators not refreshed within the TTL. A dropped
// stop signal would otherwise pin "is typing" forever.
func (r *Reconciler) evictStaleTyping(now time.Time) {
	r.mu.Lock()
	evicted := false
	for id, entry := range r.typing {
		if now.Sub(entry.seen) > r.typingTTL {
			delete(r.typing, id)
			evicted = true
		}
	}
	names := r.typingNamesLocked()
	r.mu.Unlock()

	if evicted {
		r.view.SetTyping(names)
	}
}

func (r *Reconciler) typingNamesLocked() []string {
	if len(r.typing) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.typing))
	for _, entry := range r.typing {
		names = append(names, entry.name)
	}
	return names
}
