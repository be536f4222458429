package devserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parleychat/parley/internal/api"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/push"
)

func startServer(t *testing.T) (*api.Client, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(NewServer(ctx))
	t.Cleanup(srv.Close)

	return api.New(srv.URL, &http.Client{Timeout: 5 * time.Second}), srv.URL
}

func waitEvent(t *testing.T, events <-chan model.Event, eventType string) model.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("push channel closed while waiting for %q", eventType)
			}
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q event", eventType)
		}
	}
}

func TestMessageLifecycle(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	user, err := client.CreateSession(ctx, "alice", "about alice", []string{"go"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if user.ID == "" {
		t.Fatal("server issued no user id")
	}

	forum, err := client.CreateForum(ctx, "gophers", "go", user.ID)
	if err != nil {
		t.Fatalf("CreateForum failed: %v", err)
	}

	if _, err := client.JoinForum(ctx, forum.ID, user.ID); err != nil {
		t.Fatalf("JoinForum failed: %v", err)
	}

	msg, err := client.SendMessage(ctx, forum.ID, user.ID, "hello world")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	edited, err := client.EditMessage(ctx, msg.ID, user.ID, "hello, world")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if !edited.Edited || edited.Text != "hello, world" {
		t.Errorf("edit not reflected: %+v", edited)
	}

	msgs, err := client.ListMessages(ctx, forum.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello, world" {
		t.Errorf("unexpected history: %+v", msgs)
	}

	if err := client.DeleteMessage(ctx, msg.ID, user.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}

	msgs, err = client.ListMessages(ctx, forum.ID)
	if err != nil {
		t.Fatalf("ListMessages after delete failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("message survived delete: %+v", msgs)
	}
}

func TestEditByNonAuthorRejected(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	alice, _ := client.CreateSession(ctx, "alice", "", nil)
	mallory, _ := client.CreateSession(ctx, "mallory", "", nil)
	forum, _ := client.CreateForum(ctx, "gophers", "go", alice.ID)
	msg, err := client.SendMessage(ctx, forum.ID, alice.ID, "mine")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	_, err = client.EditMessage(ctx, msg.ID, mallory.ID, "hijacked")

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", apiErr.Status)
	}
}

func TestPushFanout(t *testing.T) {
	client, baseURL := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice, _ := client.CreateSession(ctx, "alice", "", nil)
	bob, _ := client.CreateSession(ctx, "bob", "", nil)

	ch := push.NewChannel(baseURL, bob.ID)
	ch.Retry = 100 * time.Millisecond
	go ch.Run(ctx)

	// Give the subscriber a moment to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for ch.State() != push.StateOpen {
		if time.Now().After(deadline) {
			t.Fatal("push channel never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	forum, err := client.CreateForum(ctx, "gophers", "go", alice.ID)
	if err != nil {
		t.Fatalf("CreateForum failed: %v", err)
	}
	created := waitEvent(t, ch.Events, model.EventForumCreated)
	if created.Forum == nil || created.Forum.ID != forum.ID {
		t.Errorf("forum_created carries %+v, want forum %s", created.Forum, forum.ID)
	}

	if _, err := client.JoinForum(ctx, forum.ID, alice.ID); err != nil {
		t.Fatalf("JoinForum failed: %v", err)
	}
	joined := waitEvent(t, ch.Events, model.EventUserJoined)
	if joined.Username != "alice" || joined.Participants != 1 {
		t.Errorf("user_joined = %+v", joined)
	}

	if _, err := client.SendMessage(ctx, forum.ID, alice.ID, "hi bob"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	msgEv := waitEvent(t, ch.Events, model.EventMessage)
	if msgEv.Message == nil || msgEv.Message.Text != "hi bob" {
		t.Errorf("message event = %+v", msgEv)
	}

	if err := client.StartTyping(ctx, forum.ID, alice.ID); err != nil {
		t.Fatalf("StartTyping failed: %v", err)
	}
	typing := waitEvent(t, ch.Events, model.EventTyping)
	if !typing.Typing || typing.UserID != alice.ID {
		t.Errorf("typing event = %+v", typing)
	}

	if err := client.StopTyping(ctx, forum.ID, alice.ID); err != nil {
		t.Fatalf("StopTyping failed: %v", err)
	}
	stopped := waitEvent(t, ch.Events, model.EventTyping)
	if stopped.Typing {
		t.Errorf("expected a typing stop, got %+v", stopped)
	}
}

func TestMessageRateLimit(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	user, _ := client.CreateSession(ctx, "spammer", "", nil)
	forum, _ := client.CreateForum(ctx, "spam", "spam", user.ID)

	// The bucket allows a burst of 30; the 31st must bounce.
	var err error
	for i := 0; i < 31; i++ {
		_, err = client.SendMessage(ctx, forum.ID, user.ID, "spam")
		if err != nil {
			break
		}
	}

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", apiErr.Status)
	}
}

func TestForumFiltering(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	user, _ := client.CreateSession(ctx, "host", "", nil)
	if _, err := client.CreateForum(ctx, "chess talk", "games", user.ID); err != nil {
		t.Fatal(err)
	}
	busy, err := client.CreateForum(ctx, "go talk", "prog", user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.JoinForum(ctx, busy.ID, user.ID); err != nil {
		t.Fatal(err)
	}

	games, err := client.ListForums(ctx, "games", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(games) != 1 || games[0].Topic != "games" {
		t.Errorf("topic filter broken: %+v", games)
	}

	trending, err := client.ListForums(ctx, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(trending) != 2 || trending[0].ID != busy.ID {
		t.Errorf("trending order broken: %+v", trending)
	}
}

func TestSessionLifecycle(t *testing.T) {
	client, _ := startServer(t)
	ctx := context.Background()

	user, err := client.CreateSession(ctx, "alice", "about", []string{"go"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	fetched, err := client.FetchSession(ctx, user.ID)
	if err != nil {
		t.Fatalf("FetchSession failed: %v", err)
	}
	if fetched.DisplayName != "alice" {
		t.Errorf("fetched %+v", fetched)
	}

	if err := client.DestroySession(ctx, user.ID); err != nil {
		t.Fatalf("DestroySession failed: %v", err)
	}

	_, err = client.FetchSession(ctx, user.ID)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("destroyed session still fetchable: %v", err)
	}
}
