package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go-foodie/internal/client"
	"go-foodie/internal/inbox"
	"go-foodie/internal/logger"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"go.uber.org/zap"
)

const usage = `usage: inbox [flags] <command> [args]

commands:
  register                 create the account
  list                     show conversations and unread counts
  open <conversation-id>   show a conversation and follow new messages
  send <username> <text>   send a direct message
  notifications            show notifications
  read-all                 mark every notification read
`

type cli struct {
	api  *client.API
	log  *zap.Logger
	user string
	pass string
}

func main() {
	baseURL := flag.String("url", envOr("INBOX_URL", "http://localhost:8080"), "gateway base URL")
	username := flag.String("user", os.Getenv("INBOX_USER"), "username")
	password := flag.String("pass", os.Getenv("INBOX_PASS"), "password")
	older := flag.Int("older", 0, "extra history pages to load with open")
	level := flag.String("log-level", "warn", "log level")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage); flag.PrintDefaults() }
	flag.Parse()

	if flag.NArg() == 0 || *username == "" || *password == "" {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(*level)
	if err != nil {
		fail(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{api: client.New(*baseURL, nil), log: log, user: *username, pass: *password}
	args := flag.Args()[1:]

	switch flag.Arg(0) {
	case "register":
		err = c.register(ctx)
	case "list":
		err = c.withSession(ctx, c.list)
	case "open":
		if len(args) != 1 {
			flag.Usage()
			os.Exit(2)
		}
		id, perr := uuid.Parse(args[0])
		if perr != nil {
			fail(fmt.Errorf("invalid conversation id: %w", perr))
		}
		err = c.withSession(ctx, func(ctx context.Context, s *inbox.Session) error {
			return c.open(ctx, s, id, *older)
		})
	case "send":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = c.withSession(ctx, func(ctx context.Context, s *inbox.Session) error {
			return c.send(ctx, s, args[0], strings.Join(args[1:], " "))
		})
	case "notifications":
		err = c.withSession(ctx, c.notifications)
	case "read-all":
		err = c.withSession(ctx, func(ctx context.Context, s *inbox.Session) error {
			return s.Notifications().MarkAllRead(ctx)
		})
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fail(err)
	}
}

func (c *cli) register(ctx context.Context) error {
	u, err := c.api.Register(ctx, c.user, c.pass)
	if err != nil {
		return err
	}
	color.Green.Printf("registered %s (%s)\n", u.Username, u.ID)
	return nil
}

func (c *cli) withSession(ctx context.Context, fn func(context.Context, *inbox.Session) error) error {
	if _, err := c.api.Login(ctx, c.user, c.pass); err != nil {
		return err
	}
	s, err := inbox.Start(ctx, c.api, inbox.Options{Logger: c.log})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func (c *cli) list(_ context.Context, s *inbox.Session) error {
	renderConversations(os.Stdout, s.Store().View())
	return nil
}

func (c *cli) notifications(_ context.Context, s *inbox.Session) error {
	renderNotifications(os.Stdout, s.Notifications().Snapshot())
	return nil
}

func (c *cli) send(ctx context.Context, s *inbox.Session, to, text string) error {
	users, err := c.api.SearchUsers(ctx, to)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.Username != to {
			continue
		}
		msg, err := s.SendTo(ctx, u.ID, text)
		if err != nil {
			return err
		}
		color.Green.Printf("sent to %s in %s\n", to, msg.ConversationID)
		return nil
	}
	return fmt.Errorf("no user named %q", to)
}

// open prints the conversation, then follows it until interrupted. Everything
// printed counts as seen.
func (c *cli) open(ctx context.Context, s *inbox.Session, id uuid.UUID, older int) error {
	if err := s.Activate(ctx, id); err != nil {
		return err
	}
	for range older {
		if err := s.LoadOlder(ctx); err != nil {
			return err
		}
	}

	printed := make(map[uuid.UUID]bool)
	show := func() {
		view := s.Store().View()
		th, ok := view.ActiveThread()
		if !ok {
			return
		}
		for _, m := range th.Messages {
			if printed[m.ID] {
				continue
			}
			printed[m.ID] = true
			printMessage(os.Stdout, view.Self, m)
			s.MessageVisible(m)
		}
	}

	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf("  ====== %s ======  ", id)))
	show()
	for {
		select {
		case <-s.Store().Changes():
			show()
		case err := <-s.Errors():
			color.Yellow.Printf("! %v\n", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, color.Red.Sprintf("error: %v", err))
	os.Exit(1)
}
