package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleychat/parley/internal/model"
)

func TestListMessagesAcceptsBothShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrapped object", `{"messages":[{"id":"m1","text":"hi"},{"id":"m2","text":"yo"}]}`},
		{"bare array", `[{"id":"m1","text":"hi"},{"id":"m2","text":"yo"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/messages" {
					t.Errorf("path = %s, want /api/messages", r.URL.Path)
				}
				if got := r.URL.Query().Get("forumId"); got != "f1" {
					t.Errorf("forumId = %q, want f1", got)
				}
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := New(srv.URL, nil)
			msgs, err := client.ListMessages(context.Background(), "f1")
			if err != nil {
				t.Fatalf("ListMessages failed: %v", err)
			}
			if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].Text != "yo" {
				t.Errorf("unexpected messages: %+v", msgs)
			}
		})
	}
}

func TestServerErrorSurfacedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"too many messages, slow down"}`)
	}))
	defer srv.Close()

	client := New(srv.URL, nil)
	_, err := client.SendMessage(context.Background(), "f1", "u1", "spam")
	if err == nil {
		t.Fatal("expected an error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", apiErr.Status)
	}
	if apiErr.Error() != "too many messages, slow down" {
		t.Errorf("message = %q, want the server's text verbatim", apiErr.Error())
	}
}

func TestMalformedErrorBodyStillErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "<html>gateway sadness</html>")
	}))
	defer srv.Close()

	client := New(srv.URL, nil)
	_, err := client.FetchSession(context.Background(), "u1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusInternalServerError || apiErr.Message != "" {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestSendMessageRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content type = %q", got)
		}

		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("request body is not JSON: %v", err)
		}
		if body["forumId"] != "f1" || body["userId"] != "u1" || body["text"] != "hello" {
			t.Errorf("unexpected body: %v", body)
		}

		json.NewEncoder(w).Encode(model.Message{ID: "m1", ForumID: "f1", UserID: "u1", Text: "hello"})
	}))
	defer srv.Close()

	client := New(srv.URL, nil)
	msg, err := client.SendMessage(context.Background(), "f1", "u1", "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.ID != "m1" {
		t.Errorf("message id = %q, want m1", msg.ID)
	}
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth" || r.Method != http.MethodPost {
			t.Errorf("%s %s, want POST /api/auth", r.Method, r.URL.Path)
		}

		var body struct {
			DisplayName string   `json:"displayName"`
			AboutMe     string   `json:"aboutMe"`
			Interests   []string `json:"interests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.DisplayName != "alice" || len(body.Interests) != 2 {
			t.Errorf("unexpected body: %+v", body)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.User{ID: "u1", DisplayName: "alice"})
	}))
	defer srv.Close()

	client := New(srv.URL, nil)
	user, err := client.CreateSession(context.Background(), "alice", "hi", []string{"go", "chess"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user id = %q, want u1", user.ID)
	}
}

func TestListForumsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("topic") != "games" || q.Get("trending") != "true" {
			t.Errorf("query = %v", q)
		}
		fmt.Fprint(w, `[{"id":"f1","title":"chess talk","topic":"games","participants":4}]`)
	}))
	defer srv.Close()

	client := New(srv.URL, nil)
	forums, err := client.ListForums(context.Background(), "games", true)
	if err != nil {
		t.Fatalf("ListForums failed: %v", err)
	}
	if len(forums) != 1 || forums[0].Participants != 4 {
		t.Errorf("unexpected forums: %+v", forums)
	}
}
