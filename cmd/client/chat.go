package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/outbox"
	"github.com/vovakirdan/wirechat-client/internal/session"
)

// devJWT signs local dev sessions when no token is supplied. Real tokens
// come from the backend's login flow.
var devJWT = &auth.JWTConfig{
	Secret:   []byte("wirechat-dev-secret"),
	Issuer:   "wirechat-dev",
	Audience: "wirechat-client",
	TTL:      24 * time.Hour,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the conversation and chat from the terminal",
	Long: `Opens the configured conversation and mirrors it live. Lines are sent as
messages; commands start with a slash:

  /edit <id> <text>   edit a message
  /del <id>           delete a message
  /react <id> <emoji> toggle a reaction
  /quit               leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := log.New(cfg.LogLevel)

		sess, err := resolveSession(&cfg)
		if err != nil {
			return err
		}

		a, err := app.New(&cfg, sess, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runErr := make(chan error, 1)
		go func() { runErr <- a.Run(ctx) }()
		go renderLoop(ctx, a, sess)

		if err := inputLoop(ctx, a, stop); err != nil {
			return err
		}
		stop()
		return <-runErr
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and session identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sess, err := resolveSession(&cfg)
		if err != nil {
			return err
		}
		fmt.Printf("user:          %s (%s)\n", sess.Username, sess.UserID)
		fmt.Printf("conversation:  %s\n", sess.ConversationID)
		if cfg.BackendURL != "" {
			fmt.Printf("backend:       %s\n", cfg.BackendURL)
		} else {
			fmt.Printf("backend:       local sqlite (%s)\n", cfg.DatabasePath)
		}
		return nil
	},
}

// resolveSession builds the session context from the configured token,
// minting a dev token when only --user is given.
func resolveSession(cfg *config.Config) (*session.Session, error) {
	token := cfg.Token
	if token == "" {
		if flagUser == "" {
			return nil, fmt.Errorf("no session: provide --token or --user")
		}
		minted, err := auth.GenerateToken(devJWT, flagUser, flagUser)
		if err != nil {
			return nil, fmt.Errorf("mint dev token: %w", err)
		}
		token = minted
	}
	return session.FromToken(devJWT, token, cfg.ConversationID)
}

func renderLoop(ctx context.Context, a *app.App, sess *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Changed():
			msgs, err := a.Snapshot(ctx)
			if err != nil {
				return
			}
			render(msgs, sess, a)
		}
	}
}

func render(msgs []*chat.Message, sess *session.Session, a *app.App) {
	fmt.Printf("\n--- %s [%s] ---\n", sess.ConversationID, a.State())
	for _, m := range msgs {
		seen := ""
		if len(m.ReadBy) > 0 {
			seen = " ✓"
		}
		fmt.Printf("[%s] %s: %s%s\n",
			m.CreatedAt.Format("15:04"), sess.PeerName(m.SenderID), m.Content, seen)
	}
	if typing := a.TypingUsers(); len(typing) > 0 {
		names := make([]string, 0, len(typing))
		for _, id := range typing {
			names = append(names, sess.PeerName(id))
		}
		fmt.Println(chat.TypingLabel(names))
	}
}

func inputLoop(ctx context.Context, a *app.App, stop func()) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleLine(ctx, a, line, stop); err != nil {
			fmt.Fprintln(os.Stderr, "!", err)
		}
		if line == "/quit" {
			return nil
		}
	}
	return scanner.Err()
}

func handleLine(ctx context.Context, a *app.App, line string, stop func()) error {
	if !strings.HasPrefix(line, "/") {
		_, err := a.Send(ctx, outbox.Draft{Content: line})
		return err
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		stop()
		return nil
	case "/edit":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /edit <id> <text>")
		}
		return a.Edit(ctx, fields[1], strings.Join(fields[2:], " "))
	case "/del":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /del <id>")
		}
		return a.Remove(ctx, fields[1])
	case "/react":
		if len(fields) != 3 {
			return fmt.Errorf("usage: /react <id> <emoji>")
		}
		return a.React(ctx, fields[1], fields[2])
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
