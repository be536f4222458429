// Package reconcile owns the client's live view of forum, message, and
// typing state. It is the only writer of that state: push-channel events and
// optimistic local actions both funnel through here, so a redundant echo for
// an action already applied locally must land as a no-op.
package reconcile

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parleychat/parley/internal/model"
)

// Service is the slice of the remote API the reconciler drives.
type Service interface {
	JoinForum(ctx context.Context, forumID, userID string) (model.Forum, error)
	LeaveForum(ctx context.Context, forumID, userID string) error
	ListForums(ctx context.Context, topic string, trending bool) ([]model.Forum, error)
	ListMessages(ctx context.Context, forumID string) ([]model.Message, error)
	SendMessage(ctx context.Context, forumID, userID, text string) (model.Message, error)
	EditMessage(ctx context.Context, messageID, userID, text string) (model.Message, error)
	DeleteMessage(ctx context.Context, messageID, userID string) error
	StartTyping(ctx context.Context, forumID, userID string) error
	StopTyping(ctx context.Context, forumID, userID string) error
}

// View is the render sink. The reconciler pushes every visible mutation
// through it; the view keeps no state of its own.
type View interface {
	ShowForums(forums []model.Forum)
	PrependForum(forum model.Forum)
	ShowHistory(messages []model.Message)
	AppendMessage(msg model.Message)
	UpdateMessage(msg model.Message)
	RemoveMessage(messageID string)
	SetTyping(names []string)
	Notice(text string)
}

type typingEntry struct {
	name string
	seen time.Time
}

// Options tune the reconciler's timers. Zero values pick the defaults.
type Options struct {
	// TypingIdle is the quiet window after the last keystroke before the
	// typing-stop signal fires.
	TypingIdle time.Duration

	// TypingTTL evicts an indicator whose stop signal was lost.
	TypingTTL time.Duration

	// ReplayEvery paces outbox replay after coming back online.
	ReplayEvery time.Duration
}

// Reconciler is constructed when a session starts and discarded at sign-out.
// All state lives here; there are no package globals.
type Reconciler struct {
	svc  Service
	view View
	user model.User

	mu       sync.Mutex
	forums   []model.Forum
	room     *model.Forum
	messages []model.Message
	typing   map[string]typingEntry
	outbox   []model.PendingMessage
	online   bool

	typingIdle time.Duration
	typingTTL  time.Duration
	stopTimer  *time.Timer
	replayLim  *rate.Limiter
}

func New(svc Service, view View, user model.User, opts Options) *Reconciler {
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = 2 * time.Second
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = 6 * time.Second
	}
	if opts.ReplayEvery <= 0 {
		opts.ReplayEvery = 100 * time.Millisecond
	}

	return &Reconciler{
		svc:        svc,
		view:       view,
		user:       user,
		typing:     make(map[string]typingEntry),
		typingIdle: opts.TypingIdle,
		typingTTL:  opts.TypingTTL,
		replayLim:  rate.NewLimiter(rate.Every(opts.ReplayEvery), 1),
	}
}

// Run consumes push events and sweeps stale typing entries until ctx is
// canceled or the events channel closes.
func (r *Reconciler) Run(ctx context.Context, events <-chan model.Event) {
	sweep := time.NewTicker(r.typingTTL / 2)
	defer sweep.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Apply(ev)

		case <-sweep.C:
			r.evictStaleTyping(time.Now())

		case <-ctx.Done():
			r.mu.Lock()
			if r.stopTimer != nil {
				r.stopTimer.Stop()
			}
			r.mu.Unlock()
			return
		}
	}
}

// User returns the session identity the reconciler was built for.
func (r *Reconciler) User() model.User { return r.user }

// Room returns the current membership, or false when outside any forum.
func (r *Reconciler) Room() (model.Forum, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.room == nil {
		return model.Forum{}, false
	}
	return *r.room, true
}

// Messages returns a copy of the rendered message list.
func (r *Reconciler) Messages() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Forums returns a copy of the cached forum list.
func (r *Reconciler) Forums() []model.Forum {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Forum, len(r.forums))
	copy(out, r.forums)
	return out
}

// RefreshForums reloads the forum directory from the server.
func (r *Reconciler) RefreshForums(ctx context.Context, topic string, trending bool) error {
	forums, err := r.svc.ListForums(ctx, topic, trending)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.forums = forums
	r.mu.Unlock()

	r.view.ShowForums(forums)
	return nil
}

// Join enters a forum and reloads its history. The reload is authoritative:
// any stale local view of a previous room is discarded.
func (r *Reconciler) Join(ctx context.Context, forumID string) error {
	forum, err := r.svc.JoinForum(ctx, forumID, r.user.ID)
	if err != nil {
		return err
	}

	history, err := r.svc.ListMessages(ctx, forumID)
	if err != nil {
		// Joined but could not load history; keep membership with an
		// empty view rather than leaving the user stranded outside.
		log.Printf("reconcile: history load for %s failed: %v", forumID, err)
		history = nil
	}

	r.mu.Lock()
	r.room = &forum
	r.messages = history
	r.typing = make(map[string]typingEntry)
	r.cancelTypingStopLocked()
	r.mu.Unlock()

	r.view.ShowHistory(history)
	r.view.SetTyping(nil)
	return nil
}

// Leave exits the current forum. Membership, message view, and typing set
// clear together; none survives the other.
func (r *Reconciler) Leave(ctx context.Context) error {
	r.mu.Lock()
	if r.room == nil {
		r.mu.Unlock()
		return nil
	}
	forumID := r.room.ID
	r.mu.Unlock()

	if err := r.svc.LeaveForum(ctx, forumID, r.user.ID); err != nil {
		return err
	}

	r.mu.Lock()
	r.room = nil
	r.messages = nil
	r.typing = make(map[string]typingEntry)
	r.cancelTypingStopLocked()
	r.mu.Unlock()

	r.view.ShowHistory(nil)
	r.view.SetTyping(nil)
	return nil
}

// Send delivers a message to the current room. While offline the message is
// queued instead. The confirmed message is rendered immediately; the push
// echo for it deduplicates by id.
func (r *Reconciler) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	if r.room == nil {
		r.mu.Unlock()
		return ErrNotInRoom
	}
	forumID := r.room.ID
	online := r.online
	if !online {
		r.outbox = append(r.outbox, model.PendingMessage{
			ForumID:  forumID,
			UserID:   r.user.ID,
			Text:     text,
			QueuedAt: time.Now().UTC(),
		})
		r.mu.Unlock()
		r.view.Notice("offline: message queued")
		return nil
	}
	r.mu.Unlock()

	msg, err := r.svc.SendMessage(ctx, forumID, r.user.ID, text)
	if err != nil {
		return err
	}

	r.mu.Lock()
	appended := r.appendLocked(msg)
	r.mu.Unlock()
	if appended {
		r.view.AppendMessage(msg)
	}
	return nil
}

// Edit replaces a message's text. Unchanged text is a no-op. The local patch
// happens on success only, so there is nothing to roll back on failure.
func (r *Reconciler) Edit(ctx context.Context, messageID, text string) error {
	r.mu.Lock()
	idx := r.indexLocked(messageID)
	if idx < 0 {
		r.mu.Unlock()
		return ErrNoSuchMessage
	}
	if r.messages[idx].Text == text {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	msg, err := r.svc.EditMessage(ctx, messageID, r.user.ID, text)
	if err != nil {
		return err
	}

	r.mu.Lock()
	updated := r.patchLocked(msg.ID, msg.Text)
	r.mu.Unlock()
	if updated != nil {
		r.view.UpdateMessage(*updated)
	}
	return nil
}

// Delete removes a message. Local removal happens on success only; a later
// push echo for the same id finds nothing and does nothing.
func (r *Reconciler) Delete(ctx context.Context, messageID string) error {
	if err := r.svc.DeleteMessage(ctx, messageID, r.user.ID); err != nil {
		return err
	}

	r.mu.Lock()
	removed := r.removeLocked(messageID)
	r.mu.Unlock()
	if removed {
		r.view.RemoveMessage(messageID)
	}
	return nil
}

// Keystroke broadcasts a typing-start signal immediately and (re)schedules
// the typing-stop signal for one idle window later. Start fires on every
// keystroke; stop fires once per idle gap.
func (r *Reconciler) Keystroke(ctx context.Context) {
	r.mu.Lock()
	if r.room == nil {
		r.mu.Unlock()
		return
	}
	forumID := r.room.ID
	if r.stopTimer != nil {
		r.stopTimer.Stop()
	}
	r.stopTimer = time.AfterFunc(r.typingIdle, func() {
		r.broadcastTypingStop(forumID)
	})
	r.mu.Unlock()

	if err := r.svc.StartTyping(ctx, forumID, r.user.ID); err != nil {
		log.Printf("reconcile: typing start: %v", err)
	}
}

func (r *Reconciler) broadcastTypingStop(forumID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.svc.StopTyping(ctx, forumID, r.user.ID); err != nil {
		log.Printf("reconcile: typing stop: %v", err)
	}
}

func (r *Reconciler) cancelTypingStopLocked() {
	if r.stopTimer != nil {
		r.stopTimer.Stop()
		r.stopTimer = nil
	}
}

// SetOnline flips connectivity. The offline transition leaves the outbox
// untouched; the online transition replays it in enqueue order and clears
// it. Replay failures are logged, not retried.
func (r *Reconciler) SetOnline(ctx context.Context, online bool) {
	r.mu.Lock()
	if r.online == online {
		r.mu.Unlock()
		return
	}
	r.online = online
	var pending []model.PendingMessage
	if online {
		pending = r.outbox
		r.outbox = nil
	}
	r.mu.Unlock()

	if !online {
		r.view.Notice("connection lost; messages will be queued")
		return
	}

	r.view.Notice("connection restored")
	for _, p := range pending {
		if err := r.replayLim.Wait(ctx); err != nil {
			return
		}
		if _, err := r.svc.SendMessage(ctx, p.ForumID, p.UserID, p.Text); err != nil {
			slog.Warn("outbox replay failed",
				slog.String("forum_id", p.ForumID),
				slog.String("error", err.Error()))
		}
	}
}

// Online reports the current connectivity flag.
func (r *Reconciler) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// PendingMessages snapshots the outbox, for parking at shutdown.
func (r *Reconciler) PendingMessages() []model.PendingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.PendingMessage, len(r.outbox))
	copy(out, r.outbox)
	return out
}

// RestoreOutbox seeds the outbox from a parked copy, ahead of any queued
// entries from this run.
func (r *Reconciler) RestoreOutbox(pending []model.PendingMessage) {
	if len(pending) == 0 {
		return
	}
	r.mu.Lock()
	r.outbox = append(append([]model.PendingMessage{}, pending...), r.outbox...)
	r.mu.Unlock()
}

func (r *Reconciler) indexLocked(messageID string) int {
	for i := range r.messages {
		if r.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// appendLocked adds a message unless one with the same id is already
// rendered. Reports whether anything changed.
func (r *Reconciler) appendLocked(msg model.Message) bool {
	if msg.ID != "" && r.indexLocked(msg.ID) >= 0 {
		return false
	}
	r.messages = append(r.messages, msg)
	return true
}

// patchLocked rewrites a message's text and marks it edited. Identical text
// is left alone. Returns the updated message, or nil when nothing changed.
func (r *Reconciler) patchLocked(messageID, text string) *model.Message {
	idx := r.indexLocked(messageID)
	if idx < 0 {
		return nil
	}
	if r.messages[idx].Text == text && r.messages[idx].Edited {
		return nil
	}
	r.messages[idx].Text = text
	r.messages[idx].Edited = true
	msg := r.messages[idx]
	return &msg
}

func (r *Reconciler) removeLocked(messageID string) bool {
	idx := r.indexLocked(messageID)
	if idx < 0 {
		return false
	}
	r.messages = append(r.messages[:idx], r.messages[idx+1:]...)
	return true
}
