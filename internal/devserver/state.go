package devserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/parleychat/parley/internal/model"
)

var (
	errNoSuchUser    = errors.New("no such user")
	errNoSuchForum   = errors.New("no such forum")
	errNoSuchMessage = errors.New("no such message")
	errNotAuthor     = errors.New("not the author of this message")
)

// state is the in-memory store behind the dev server. Everything is lost on
// restart; that is the point.
type state struct {
	mu       sync.Mutex
	users    map[string]model.User
	forums   map[string]*model.Forum
	order    []string // forum ids, newest first
	messages map[string][]model.Message

	// Inbound text is sanitized before storage, same boundary as the
	// production service.
	policy *bluemonday.Policy
}

func newState() *state {
	return &state{
		users:    make(map[string]model.User),
		forums:   make(map[string]*model.Forum),
		messages: make(map[string][]model.Message),
		policy:   bluemonday.StrictPolicy(),
	}
}

func (s *state) createUser(displayName, aboutMe string, interests []string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := model.User{
		ID:          uuid.NewString(),
		DisplayName: s.policy.Sanitize(displayName),
		AboutMe:     s.policy.Sanitize(aboutMe),
		Interests:   interests,
	}
	s.users[user.ID] = user
	return user
}

func (s *state) getUser(userID string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return model.User{}, errNoSuchUser
	}
	return user, nil
}

func (s *state) deleteUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return errNoSuchUser
	}
	delete(s.users, userID)
	return nil
}

func (s *state) createForum(title, topic, hostID string) (model.Forum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	host, ok := s.users[hostID]
	if !ok {
		return model.Forum{}, errNoSuchUser
	}

	forum := &model.Forum{
		ID:    uuid.NewString(),
		Title: s.policy.Sanitize(title),
		Topic: s.policy.Sanitize(topic),
		Host:  host.DisplayName,
	}
	s.forums[forum.ID] = forum
	s.order = append([]string{forum.ID}, s.order...)
	return *forum, nil
}

func (s *state) listForums(topic string, trending bool) []model.Forum {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Forum, 0, len(s.order))
	for _, id := range s.order {
		f := s.forums[id]
		if topic != "" && f.Topic != topic {
			continue
		}
		out = append(out, *f)
	}

	if trending {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Participants > out[j].Participants
		})
	}
	return out
}

func (s *state) joinForum(forumID, userID string) (model.Forum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return model.Forum{}, errNoSuchUser
	}
	forum, ok := s.forums[forumID]
	if !ok {
		return model.Forum{}, errNoSuchForum
	}

	forum.Participants++
	return *forum, nil
}

func (s *state) leaveForum(forumID string) (model.Forum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	forum, ok := s.forums[forumID]
	if !ok {
		return model.Forum{}, errNoSuchForum
	}
	if forum.Participants > 0 {
		forum.Participants--
	}
	return *forum, nil
}

func (s *state) listMessages(forumID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[forumID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

func (s *state) createMessage(forumID, userID, text string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return model.Message{}, errNoSuchUser
	}
	if _, ok := s.forums[forumID]; !ok {
		return model.Message{}, errNoSuchForum
	}

	msg := model.Message{
		ID:        uuid.NewString(),
		ForumID:   forumID,
		UserID:    userID,
		Username:  user.DisplayName,
		Text:      s.policy.Sanitize(text),
		CreatedAt: time.Now().UTC(),
	}
	s.messages[forumID] = append(s.messages[forumID], msg)
	return msg, nil
}

func (s *state) editMessage(messageID, userID, text string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for forumID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].UserID != userID {
				return model.Message{}, errNotAuthor
			}
			msgs[i].Text = s.policy.Sanitize(text)
			msgs[i].Edited = true
			s.messages[forumID] = msgs
			return msgs[i], nil
		}
	}
	return model.Message{}, errNoSuchMessage
}

func (s *state) deleteMessage(messageID, userID string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for forumID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].UserID != userID {
				return model.Message{}, errNotAuthor
			}
			deleted := msgs[i]
			s.messages[forumID] = append(msgs[:i], msgs[i+1:]...)
			return deleted, nil
		}
	}
	return model.Message{}, errNoSuchMessage
}
