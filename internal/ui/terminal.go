// Package ui renders the reconciler's view on a terminal.
package ui

import (
	"fmt"
	"html"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/parleychat/parley/internal/model"
)

// Terminal is a line-oriented renderer. Server-provided text is sanitized
// before printing; the remote service stores whatever participants typed.
type Terminal struct {
	mu     sync.Mutex
	out    io.Writer
	selfID string
	policy *bluemonday.Policy
}

func NewTerminal(out io.Writer, selfID string) *Terminal {
	return &Terminal{
		out:    out,
		selfID: selfID,
		policy: bluemonday.StrictPolicy(),
	}
}

// clean strips any markup and restores entities for plain-text display.
func (t *Terminal) clean(s string) string {
	return html.UnescapeString(t.policy.Sanitize(s))
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *Terminal) ShowForums(forums []model.Forum) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(forums) == 0 {
		fmt.Fprintln(t.out, "no forums yet")
		return
	}
	for _, f := range forums {
		fmt.Fprintf(t.out, "%s  %-30s [%s] host=%s %d inside\n",
			f.ID, t.clean(f.Title), t.clean(f.Topic), t.clean(f.Host), f.Participants)
	}
}

func (t *Terminal) PrependForum(f model.Forum) {
	t.printf("new forum: %s [%s] (%s)", t.clean(f.Title), t.clean(f.Topic), f.ID)
}

func (t *Terminal) ShowHistory(messages []model.Message) {
	for _, msg := range messages {
		t.AppendMessage(msg)
	}
}

func (t *Terminal) AppendMessage(msg model.Message) {
	if msg.System {
		t.printf("-- %s", t.clean(msg.Text))
		return
	}

	name := t.clean(msg.Username)
	if msg.UserID == t.selfID {
		name = "you"
	}
	suffix := ""
	if msg.Edited {
		suffix = " (edited)"
	}
	t.printf("[%s] %s: %s%s",
		msg.CreatedAt.Local().Format("15:04"), name, t.clean(msg.Text), suffix)
}

func (t *Terminal) UpdateMessage(msg model.Message) {
	name := t.clean(msg.Username)
	if msg.UserID == t.selfID {
		name = "you"
	}
	t.printf("[edit] %s: %s (edited)", name, t.clean(msg.Text))
}

func (t *Terminal) RemoveMessage(messageID string) {
	t.printf("[deleted] message %s", messageID)
}

func (t *Terminal) SetTyping(names []string) {
	if len(names) == 0 {
		return
	}
	cleaned := make([]string, len(names))
	for i, n := range names {
		cleaned[i] = t.clean(n)
	}
	sort.Strings(cleaned)

	verb := "is"
	if len(cleaned) > 1 {
		verb = "are"
	}
	t.printf("... %s %s typing", strings.Join(cleaned, ", "), verb)
}

func (t *Terminal) Notice(text string) {
	t.printf("* %s", text)
}
