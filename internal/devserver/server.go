package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleychat/parley/internal/model"
)

// Server wires the in-memory state, the SSE fan-out hub, and the chi router
// into one handler implementing the client's wire contract.
type Server struct {
	state   *state
	hub     *Hub
	limiter *userLimiter
	router  chi.Router
	root    context.Context
}

func NewServer(ctx context.Context) *Server {
	s := &Server{
		state: newState(),
		hub:   NewHub(),
		root:  ctx,
		// Matches the production service: 30 messages per minute per
		// participant.
		limiter: newUserLimiter(30, time.Minute, 10*time.Minute),
	}
	go s.hub.Run(ctx)
	go s.limiter.cleanup(ctx, time.Minute)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth", s.handleCreateSession)
		r.Get("/auth", s.handleFetchSession)
		r.Delete("/auth", s.handleDestroySession)

		r.Get("/forums", s.handleListForums)
		r.Post("/forums", s.handleCreateForum)
		r.Post("/forums/{forumID}/join", s.handleJoinForum)
		r.Post("/forums/{forumID}/leave", s.handleLeaveForum)

		r.Get("/messages", s.handleListMessages)
		r.Post("/messages", s.handleSendMessage)
		r.Put("/messages", s.handleEditMessage)
		r.Delete("/messages", s.handleDeleteMessage)
		r.Post("/messages/typing", s.handleTyping(true))
		r.Delete("/messages/typing", s.handleTyping(false))

		r.Get("/sse", s.handleStream)
	})
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("devserver: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errNoSuchUser),
		errors.Is(err, errNoSuchForum),
		errors.Is(err, errNoSuchMessage):
		return http.StatusNotFound
	case errors.Is(err, errNotAuthor):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string   `json:"displayName"`
		AboutMe     string   `json:"aboutMe"`
		Interests   []string `json:"interests"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.DisplayName == "" {
		writeError(w, http.StatusBadRequest, errors.New("displayName is required"))
		return
	}

	user := s.state.createUser(body.DisplayName, body.AboutMe, body.Interests)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleFetchSession(w http.ResponseWriter, r *http.Request) {
	user, err := s.state.getUser(r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	if err := s.state.deleteUser(r.URL.Query().Get("userId")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListForums(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	forums := s.state.listForums(q.Get("topic"), q.Get("trending") == "true")
	writeJSON(w, http.StatusOK, forums)
}

func (s *Server) handleCreateForum(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title  string `json:"title"`
		Topic  string `json:"topic"`
		HostID string `json:"hostId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	forum, err := s.state.createForum(body.Title, body.Topic, body.HostID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.hub.Publish(model.Event{Type: model.EventForumCreated, Forum: &forum})
	writeJSON(w, http.StatusCreated, forum)
}

func (s *Server) handleJoinForum(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	forumID := chi.URLParam(r, "forumID")
	forum, err := s.state.joinForum(forumID, body.UserID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	user, _ := s.state.getUser(body.UserID)
	s.hub.Publish(model.Event{
		Type:         model.EventUserJoined,
		ForumID:      forumID,
		UserID:       body.UserID,
		Username:     user.DisplayName,
		Participants: forum.Participants,
	})
	writeJSON(w, http.StatusOK, forum)
}

func (s *Server) handleLeaveForum(w http.ResponseWriter, r *http.Request) {
	// Leave requires no body; accept and ignore one if present.
	var body struct {
		UserID string `json:"userId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	forumID := chi.URLParam(r, "forumID")
	forum, err := s.state.leaveForum(forumID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	user, _ := s.state.getUser(body.UserID)
	s.hub.Publish(model.Event{
		Type:         model.EventUserLeft,
		ForumID:      forumID,
		UserID:       body.UserID,
		Username:     user.DisplayName,
		Participants: forum.Participants,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs := s.state.listMessages(r.URL.Query().Get("forumId"))
	writeJSON(w, http.StatusOK, map[string][]model.Message{"messages": msgs})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ForumID string `json:"forumId"`
		UserID  string `json:"userId"`
		Text    string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !s.limiter.allow(body.UserID) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many messages, slow down"))
		return
	}

	msg, err := s.state.createMessage(body.ForumID, body.UserID, body.Text)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.hub.Publish(model.Event{
		Type:    model.EventMessage,
		ForumID: msg.ForumID,
		Message: &msg,
	})
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageID string `json:"messageId"`
		UserID    string `json:"userId"`
		Text      string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := s.state.editMessage(body.MessageID, body.UserID, body.Text)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.hub.Publish(model.Event{
		Type:      model.EventMessageEdited,
		ForumID:   msg.ForumID,
		MessageID: msg.ID,
		Text:      msg.Text,
	})
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageID string `json:"messageId"`
		UserID    string `json:"userId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := s.state.deleteMessage(body.MessageID, body.UserID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.hub.Publish(model.Event{
		Type:      model.EventMessageDeleted,
		ForumID:   msg.ForumID,
		MessageID: msg.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTyping(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ForumID string `json:"forumId"`
			UserID  string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := s.state.getUser(body.UserID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		s.hub.Publish(model.Event{
			Type:     model.EventTyping,
			ForumID:  body.ForumID,
			UserID:   body.UserID,
			Username: user.DisplayName,
			Typing:   start,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleStream is the push channel: one SSE stream per connected client,
// padded with comment keepalives so intermediaries keep it open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if _, err := s.state.getUser(userID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	// Register before completing the handshake so a client that sees the
	// stream open cannot miss an event published right after.
	sub := s.hub.subscribe(userID)
	defer func() {
		// The hub loop may already be gone during process shutdown.
		select {
		case s.hub.unregister <- sub:
		case <-s.root.Done():
		}
	}()

	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		log.Printf("%v", err)
		return
	}

	ctx := r.Context()
	log.Printf("subscriber [%s] connected", userID)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.eventCh:
			if !ok {
				return
			}

			raw, err := json.Marshal(ev)
			if err != nil {
				log.Printf("devserver: encode event: %v", err)
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", raw) //nolint:errcheck
			if err := rc.Flush(); err != nil {
				log.Printf("could not flush buffer to writer: %+v", err)
			}

		case <-ticker.C:
			fmt.Fprint(w, ": \n\n") //nolint:errcheck
			if err := rc.Flush(); err != nil {
				log.Printf("could not flush buffer to writer: %+v", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
