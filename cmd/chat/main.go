// Package main is an interactive terminal client for the widget core,
// exercising the full send/stream/reconcile path against a running backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chatlift/widget-core/internal/api"
	"github.com/chatlift/widget-core/internal/cache"
	"github.com/chatlift/widget-core/internal/config"
	"github.com/chatlift/widget-core/internal/session"
	"github.com/chatlift/widget-core/pkg/logger"
)

const replyTimeout = 60 * time.Second

func main() {
	cfg := config.Load()

	// Keep the terminal clean; structured logs go to stderr on errors only.
	log, err := logger.New("error")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	client := api.NewClient(cfg.APIBaseURL, cfg.APIKey, log)
	if err := client.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("connected as visitor %s\n", client.VisitorID())

	store := cache.NewStore(log)
	printer := &streamPrinter{}

	var sess *session.Session
	sess = session.New(store, client, "", session.Options{
		WSBaseURL:            cfg.WSBaseURL,
		ConnectTimeout:       cfg.ConnectTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		HistoryPageSize:      cfg.HistoryPageSize,
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\n[connection] %v\n", err)
		},
		OnUpdate: func() {
			printer.update(sess.StreamingContent())
		},
	}, log)
	sess.Activate()
	defer sess.Deactivate()

	fmt.Println(`type a message and press enter ("quit" to leave)`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "quit" {
			return
		}

		printer.reset()
		if err := sess.Send(ctx, text); err != nil {
			switch {
			case errors.Is(err, session.ErrSessionEnded):
				fmt.Println("this conversation has ended; restart to begin a new one")
				return
			case errors.Is(err, session.ErrSendInFlight):
				fmt.Println("still waiting for the previous reply")
			default:
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
			continue
		}

		waitSettled(sess)
		printer.finish()
		if sess.IsEnded() {
			fmt.Println("[session ended]")
			return
		}
	}
}

// waitSettled blocks until the in-flight send settles or times out. The
// printer streams the reply from OnUpdate callbacks in the meantime.
func waitSettled(sess *session.Session) {
	deadline := time.Now().Add(replyTimeout)
	for time.Now().Before(deadline) {
		if !sess.IsAwaitingResponse() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "\n[timed out waiting for a reply]")
}

// streamPrinter writes each new suffix of the buffered assistant turn so the
// reply appears incrementally.
type streamPrinter struct {
	mu      sync.Mutex
	printed int
}

func (p *streamPrinter) reset() {
	p.mu.Lock()
	p.printed = 0
	p.mu.Unlock()
}

func (p *streamPrinter) update(streaming string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if streaming == "" {
		return
	}
	if len(streaming) > p.printed {
		fmt.Print(streaming[p.printed:])
		p.printed = len(streaming)
	}
}

func (p *streamPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed > 0 {
		fmt.Println()
	}
	p.printed = 0
}
