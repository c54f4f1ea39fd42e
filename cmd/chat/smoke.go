package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/relaychat/internal/client"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/log"
)

var (
	smokeText    string
	smokeTimeout time.Duration
)

// smokeCmd checks a running relay end to end with two sessions.
var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Check a relay: echo to sender and peer, typing to peer only",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return smoke(cmd.Context())
	},
}

func init() {
	smokeCmd.Flags().StringVar(&smokeText, "text", "hello from smoke test", "message text to send")
	smokeCmd.Flags().DurationVar(&smokeTimeout, "timeout", 5*time.Second, "total timeout for the run")
	rootCmd.AddCommand(smokeCmd)
}

func smoke(ctx context.Context) error {
	logger := log.NewWithWriter(os.Stderr, logLevel)

	cfg, _, err := config.LoadClient(logger, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if relayURL != "" {
		cfg.Client.RelayURL = relayURL
	}

	ctx, cancel := context.WithTimeout(ctx, smokeTimeout)
	defer cancel()

	opts := client.Options{
		URL:              cfg.Client.RelayURL,
		Token:            token,
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		Logger:           logger,
	}
	sender := client.New(opts)
	peer := client.New(opts)

	senderMsgs := make(chan client.Message, 1)
	peerMsgs := make(chan client.Message, 1)
	peerTyping := make(chan client.TypingEvent, 1)
	sender.OnMessage(func(m client.Message) { offer(senderMsgs, m) })
	peer.OnMessage(func(m client.Message) { offer(peerMsgs, m) })
	peer.OnUserTyping(func(ev client.TypingEvent) { offer(peerTyping, ev) })

	if err := sender.Connect(ctx, userID); err != nil {
		return fmt.Errorf("connect sender: %w", err)
	}
	defer sender.Disconnect()
	if err := peer.Connect(ctx, userID+"-peer"); err != nil {
		return fmt.Errorf("connect peer: %w", err)
	}
	defer peer.Disconnect()

	if err := sender.EmitTyping(ctx, true); err != nil {
		return err
	}
	if err := sender.SendMessage(ctx, client.Message{Text: smokeText, RoomID: room}); err != nil {
		return err
	}

	ev, err := await(ctx, peerTyping)
	if err != nil {
		return fmt.Errorf("typing signal: %w", err)
	}
	fmt.Printf("peer saw typing: user=%s typing=%v\n", ev.UserID, ev.IsTyping)

	for name, ch := range map[string]chan client.Message{"sender": senderMsgs, "peer": peerMsgs} {
		m, err := await(ctx, ch)
		if err != nil {
			return fmt.Errorf("%s message: %w", name, err)
		}
		fmt.Printf("%s got message: id=%s user=%s text=%q\n", name, m.ID, m.UserID, m.Text)
	}
	return nil
}

func await[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// offer keeps the first value and drops the rest so callbacks never block.
func offer[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}
