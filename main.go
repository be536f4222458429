// Package main our entry point.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parleychat/parley/internal/api"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/push"
	"github.com/parleychat/parley/internal/reconcile"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/ui"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open local state: %v", err)
	}
	defer db.Close()

	client := api.New(cfg.ServerURL, &http.Client{Timeout: cfg.RequestTimeout})
	stdin := bufio.NewScanner(os.Stdin)

	user, err := openSession(ctx, client, db, stdin)
	if err != nil {
		log.Fatalf("failed to open session: %v", err)
	}
	fmt.Printf("signed in as %s (%s)\n", user.DisplayName, user.ID)

	view := ui.NewTerminal(os.Stdout, user.ID)
	rec := reconcile.New(client, view, user, reconcile.Options{
		TypingIdle: cfg.TypingIdle,
		TypingTTL:  cfg.TypingTTL,
	})

	// A previous run may have parked unsent messages on its way out.
	parked, err := db.TakeOutbox()
	if err != nil {
		log.Printf("failed to restore parked outbox: %v", err)
	}
	rec.RestoreOutbox(parked)

	ch := push.NewChannel(cfg.ServerURL, user.ID)
	ch.Retry = cfg.ReconnectDelay
	ch.OnState = func(s push.State) {
		rec.SetOnline(ctx, s == push.StateOpen)
	}
	go ch.Run(ctx)
	go rec.Run(ctx, ch.Events)

	if err := rec.RefreshForums(ctx, "", false); err != nil {
		log.Printf("failed to load forums: %v", err)
	}

	commandLoop(ctx, stop, client, db, rec, stdin)

	// Park whatever never made it out; the next run replays it.
	if err := db.ParkOutbox(rec.PendingMessages()); err != nil {
		log.Printf("failed to park outbox: %v", err)
	}

	fmt.Println("bye")
}

// openSession restores the persisted identity, or walks through signup when
// none exists. A persisted identity the server no longer knows falls back to
// signup as well.
func openSession(ctx context.Context, client *api.Client, db *store.Store, stdin *bufio.Scanner) (model.User, error) {
	if saved, ok, err := db.LoadSession(); err != nil {
		return model.User{}, err
	} else if ok {
		user, err := client.FetchSession(ctx, saved.ID)
		if err == nil {
			return user, nil
		}

		var apiErr *api.APIError
		if !errors.As(err, &apiErr) {
			return model.User{}, err
		}
		log.Printf("saved session rejected (%v); starting over", err)
	}

	fmt.Print("display name: ")
	if !stdin.Scan() {
		return model.User{}, errors.New("stdin closed")
	}
	displayName := strings.TrimSpace(stdin.Text())

	fmt.Print("about me: ")
	if !stdin.Scan() {
		return model.User{}, errors.New("stdin closed")
	}
	aboutMe := strings.TrimSpace(stdin.Text())

	fmt.Print("interests (comma separated): ")
	if !stdin.Scan() {
		return model.User{}, errors.New("stdin closed")
	}
	var interests []string
	for _, tag := range strings.Split(stdin.Text(), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			interests = append(interests, tag)
		}
	}

	user, err := client.CreateSession(ctx, displayName, aboutMe, interests)
	if err != nil {
		return model.User{}, err
	}

	if err := db.SaveSession(user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func commandLoop(ctx context.Context, stop context.CancelFunc, client *api.Client, db *store.Store, rec *reconcile.Reconciler, stdin *bufio.Scanner) {
	user := rec.User()

	for stdin.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			// A plain line is a message for the current room. The input
			// was already consumed; on failure hand the text back so
			// nothing typed is lost.
			rec.Keystroke(ctx)
			if err := rec.Send(ctx, line); err != nil {
				fmt.Printf("! send failed: %v\n! your text: %s\n", err, line)
			}
			continue
		}

		cmd, rest, _ := strings.Cut(line[1:], " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "forums":
			if err := rec.RefreshForums(ctx, rest, false); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case "trending":
			if err := rec.RefreshForums(ctx, "", true); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case "create":
			topic, title, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: /create <topic> <title>")
				continue
			}
			forum, err := client.CreateForum(ctx, strings.TrimSpace(title), topic, user.ID)
			if err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			fmt.Printf("created forum %s (%s)\n", forum.Title, forum.ID)

		case "join":
			if rest == "" {
				fmt.Println("usage: /join <forum-id>")
				continue
			}
			if err := rec.Join(ctx, rest); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case "leave":
			if err := rec.Leave(ctx); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case "edit":
			id, text, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: /edit <message-id> <new text>")
				continue
			}
			if err := rec.Edit(ctx, id, strings.TrimSpace(text)); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case "delete":
			if rest == "" {
				fmt.Println("usage: /delete <message-id>")
				continue
			}
			if err := rec.Delete(ctx, rest); err != nil {
				fmt.Printf("! %v\n", err)
			}

		case "whoami":
			fmt.Printf("%s (%s)\n  about: %s\n  interests: %s\n",
				user.DisplayName, user.ID, user.AboutMe, strings.Join(user.Interests, ", "))

		case "logout":
			if err := client.DestroySession(ctx, user.ID); err != nil {
				log.Printf("server-side sign-out failed: %v", err)
			}
			if err := db.ClearSession(); err != nil {
				log.Printf("failed to clear saved session: %v", err)
			}
			// Sign-out tears down the push channel and the reconciler.
			stop()
			return

		case "quit":
			stop()
			return

		default:
			fmt.Printf("unknown command /%s\n", cmd)
		}
	}
}
