// Package push maintains the long-lived server-to-client event stream and
// its reconnect state machine.
package push

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/parleychat/parley/internal/model"
)

// State of the push connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// Channel owns the single push connection. The handle is replaced wholesale
// on reconnect; the old body is closed before a new dial. Decoded events are
// delivered on Events in arrival order. The zero value is not usable; call
// NewChannel.
type Channel struct {
	url    string
	client *http.Client
	state  atomic.Int32

	// Retry is the fixed delay between reconnect attempts. There is no
	// backoff and no attempt cap; the channel reconnects for as long as
	// its context is alive.
	Retry time.Duration

	// OnState, when set, observes every state transition. Called from the
	// run goroutine.
	OnState func(State)

	Events chan model.Event
}

// NewChannel prepares a push channel for the given participant. Run must be
// started for events to flow.
func NewChannel(serverURL, userID string) *Channel {
	q := url.Values{"userId": {userID}}
	return &Channel{
		// No client timeout: the stream is meant to stay open.
		client: &http.Client{},
		url:    strings.TrimRight(serverURL, "/") + "/api/sse?" + q.Encode(),
		Retry:  5 * time.Second,
		Events: make(chan model.Event, 64),
	}
}

// State reports the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	if c.OnState != nil {
		c.OnState(s)
	}
}

// Run drives the connection until ctx is canceled (sign-out). Each pass
// dials, streams until the connection drops, then waits the fixed retry
// delay. Events is closed on return.
func (c *Channel) Run(ctx context.Context) {
	defer close(c.Events)
	defer c.setState(StateDisconnected)

	for {
		c.setState(StateConnecting)

		start := time.Now()
		res, err := c.dial(ctx)
		if err == nil {
			c.setState(StateOpen)
			slog.Info("push channel open",
				slog.Duration("connect_time", time.Since(start)))

			err = c.stream(ctx, res)
			res.Body.Close()
		}

		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		log.Printf("push channel: %v; reconnecting in %s", err, c.Retry)

		select {
		case <-time.After(c.Retry):
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("internal/push: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("internal/push: dial: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("internal/push: handshake returned %d", res.StatusCode)
	}

	return res, nil
}

// stream reads newline-delimited JSON records until the connection drops.
// The server pads the stream with `:` comment keepalives, and some
// deployments wrap records in SSE `event:`/`data:` framing; both are
// tolerated. Malformed records are dropped with a diagnostic, never retried.
func (c *Channel) stream(ctx context.Context, res *http.Response) error {
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
			continue
		case strings.HasPrefix(line, "event:"):
			// The record itself rides on the data line.
			continue
		case strings.HasPrefix(line, "data:"):
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		var ev model.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Printf("push channel: dropping malformed record: %v", err)
			continue
		}
		if ev.Type == "" {
			log.Printf("push channel: dropping record with no type")
			continue
		}

		select {
		case c.Events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("internal/push: stream read: %w", err)
	}
	return errors.New("internal/push: stream closed by server")
}
