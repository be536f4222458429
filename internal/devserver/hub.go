// Package devserver is an in-memory stand-in for the remote forum service,
// implementing the same wire contract so the client can run and be load
// tested without it.
package devserver

import (
	"context"
	"log"

	"github.com/parleychat/parley/internal/model"
)

type subscriber struct {
	userID  string
	eventCh chan model.Event
}

type registration struct {
	sub  *subscriber
	done chan struct{}
}

// Hub fans push events out to every connected SSE subscriber.
type Hub struct {
	subscribers map[*subscriber]struct{}
	register    chan registration
	unregister  chan *subscriber
	broadcast   chan model.Event
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		register:    make(chan registration),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan model.Event, 1024),
	}
}

// Run manages subscriber lifecycle and event fan-out.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case reg := <-h.register:
			h.subscribers[reg.sub] = struct{}{}
			close(reg.done)

		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.eventCh)
			}

		case ev := <-h.broadcast:
			for sub := range h.subscribers {
				select {
				case sub.eventCh <- ev:
				default:
					log.Println("skipping event payload - channel full or subscriber slow")
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// Publish queues an event for fan-out. Never blocks the caller.
func (h *Hub) Publish(ev model.Event) {
	select {
	case h.broadcast <- ev:
	default:
		log.Println("dropping event - broadcast backlog full")
	}
}

func (h *Hub) subscribe(userID string) *subscriber {
	sub := &subscriber{
		userID:  userID,
		eventCh: make(chan model.Event, 64),
	}
	reg := registration{sub: sub, done: make(chan struct{})}
	h.register <- reg
	<-reg.done
	return sub
}
