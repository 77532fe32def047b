package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go-foodie/internal/chat"
	"go-foodie/internal/client"
	"go-foodie/internal/logger"
	"go-foodie/internal/realtime"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type stats struct {
	sent      atomic.Int64
	failed    atomic.Int64
	delivered atomic.Int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "gateway base URL")
	pairs := flag.Int("pairs", 50, "number of user pairs (start small, the store may choke on 1000 at once)")
	msgCount := flag.Int("messages", 20, "messages per user")
	pause := flag.Duration("pause", 10*time.Millisecond, "pause between sends")
	flag.Parse()

	log, err := logger.New("info")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting stress test", zap.Int("users", *pairs*2), zap.Int("messages_each", *msgCount))
	start := time.Now()

	var (
		st stats
		wg sync.WaitGroup
	)
	// User 0 talks to user 1, user 2 to user 3, and so on.
	for i := range *pairs {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(context.Background(), *baseURL, pairID, *msgCount, *pause, &st); err != nil {
				log.Warn("pair failed", zap.Int("pair", pairID), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()

	log.Info("load test complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("sent", st.sent.Load()),
		zap.Int64("failed", st.failed.Load()),
		zap.Int64("delivered", st.delivered.Load()),
	)
}

func runPair(ctx context.Context, baseURL string, pairID, msgCount int, pause time.Duration, st *stats) error {
	const pass = "password123"
	a, err := authenticate(ctx, baseURL, fmt.Sprintf("u%da", pairID), pass)
	if err != nil {
		return err
	}
	b, err := authenticate(ctx, baseURL, fmt.Sprintf("u%db", pairID), pass)
	if err != nil {
		return err
	}

	conv, err := a.StartConversation(ctx, []uuid.UUID{b.UserID()}, false)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, api := range []*client.API{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- spamChat(ctx, api, conv, msgCount, pause, st)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// authenticate registers (an existing account is fine) and logs in.
func authenticate(ctx context.Context, baseURL, username, password string) (*client.API, error) {
	api := client.New(baseURL, nil)
	_, _ = api.Register(ctx, username, password)
	if _, err := api.Login(ctx, username, password); err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return api, nil
}

// spamChat sends msgCount messages while counting what arrives on the conversation channel.
func spamChat(ctx context.Context, api *client.API, conv *chat.Conversation, msgCount int, pause time.Duration, st *stats) error {
	push, err := client.Dial(ctx, api.BaseURL(), api.Token())
	if err != nil {
		return err
	}
	defer push.Close()
	if err := push.Subscribe(ctx, realtime.ConversationChannel(conv.ID)); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case evt := <-push.Events():
				if evt.Type == realtime.EventNewMessage {
					st.delivered.Add(1)
				}
			case <-push.Done():
				return
			}
		}
	}()

	for i := range msgCount {
		_, err := api.SendMessage(ctx, chat.SendMessageRequest{
			ConversationID: conv.ID,
			Content:        fmt.Sprintf("LoadTest Msg %d from %s", i, api.UserID()),
		})
		if err != nil {
			st.failed.Add(1)
			continue
		}
		st.sent.Add(1)
		// Simulates a real network instead of an instant localhost loop.
		time.Sleep(pause)
	}
	// Let the last fan-out land before hanging up.
	time.Sleep(500 * time.Millisecond)
	return nil
}
