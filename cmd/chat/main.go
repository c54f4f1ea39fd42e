package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/relaychat/internal/client"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/log"
)

var (
	configPath string
	relayURL   string
	userID     string
	token      string
	room       string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "relaychat",
	Short: "Terminal client for the relaychat relay",
	Long: `relaychat connects to the relay and prints messages and typing signals.

Type a line and press Enter to send it. Commands:
  /typing on|off   announce that you started or stopped typing
  /quit            leave`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")
	flags.StringVar(&relayURL, "url", "", "relay WebSocket URL (default from client.relay_url)")
	flags.StringVar(&userID, "user", "cli-user", "user id to announce")
	flags.StringVar(&token, "token", "", "session token from /api/signin")
	flags.StringVar(&room, "room", "general", "room id attached to sent messages; others are hidden")
	flags.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func run(ctx context.Context) error {
	logger := log.NewWithWriter(os.Stderr, logLevel)

	cfg, _, err := config.LoadClient(logger, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if relayURL != "" {
		cfg.Client.RelayURL = relayURL
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := client.New(client.Options{
		URL:              cfg.Client.RelayURL,
		Token:            token,
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		Logger:           logger,
	})
	typing := client.NewTypingTracker()

	session.OnMessage(func(m client.Message) {
		if m.RoomID != "" && m.RoomID != room {
			return
		}
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), displayUser(m.UserID), m.Text)
	})
	session.OnUserTyping(func(ev client.TypingEvent) {
		if !typing.Observe(ev) {
			return
		}
		if users := typing.Users(); len(users) > 0 {
			fmt.Fprintf(os.Stderr, "* typing: %s\n", strings.Join(users, ", "))
		} else {
			fmt.Fprintln(os.Stderr, "* nobody is typing")
		}
	})
	session.OnDisconnect(func(err error) {
		typing.Reset()
		if err != nil {
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
		}
		cancel()
	})

	if err := session.Connect(ctx, userID); err != nil {
		return err
	}
	defer session.Disconnect()

	fmt.Printf("Connected to %s as %s in room %s\n", cfg.Client.RelayURL, userID, room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	return writeLoop(ctx, session)
}

func writeLoop(ctx context.Context, session *client.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			switch text {
			case "/quit":
				return nil
			case "/typing on":
				err = session.EmitTyping(ctx, true)
			case "/typing off":
				err = session.EmitTyping(ctx, false)
			default:
				err = session.SendMessage(ctx, client.Message{Text: text, RoomID: room})
			}
			if errors.Is(err, client.ErrNotConnected) {
				return err
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "send error: %v\n", err)
			}
		}
	}
}

func displayUser(id string) string {
	if id == "" {
		return "anonymous"
	}
	return id
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
