// Package main drives synthetic traffic against a forum service: N users
// sign up, join one forum, and each send a burst of messages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parleychat/parley/internal/api"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "base URL of the forum service")
	users := flag.Int("users", 10, "number of concurrent users")
	messages := flag.Int("messages", 20, "messages per user")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := api.New(*server, &http.Client{Timeout: 10 * time.Second})

	host, err := client.CreateSession(ctx, "loadtest-host", "", nil)
	if err != nil {
		log.Fatalf("failed to create host session: %v", err)
	}

	forum, err := client.CreateForum(ctx, "load test arena", "loadtest", host.ID)
	if err != nil {
		log.Fatalf("failed to create forum: %v", err)
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)

	for i := range *users {
		g.Go(func() error {
			user, err := client.CreateSession(ctx, fmt.Sprintf("loadtest-%d", i), "", nil)
			if err != nil {
				return fmt.Errorf("user %d signup: %w", i, err)
			}

			if _, err := client.JoinForum(ctx, forum.ID, user.ID); err != nil {
				return fmt.Errorf("user %d join: %w", i, err)
			}

			for j := range *messages {
				text := fmt.Sprintf("message %d from user %d", j, i)
				if _, err := client.SendMessage(ctx, forum.ID, user.ID, text); err != nil {
					return fmt.Errorf("user %d message %d: %w", i, j, err)
				}
			}

			return client.LeaveForum(ctx, forum.ID, user.ID)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("load test failed: %v", err)
	}

	total := *users * *messages
	elapsed := time.Since(start)
	log.Printf("sent %d messages in %s (%.1f msg/s)",
		total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
}
