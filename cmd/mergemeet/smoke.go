package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	v1 "mergemeet/shared/contracts/realtime/v1"
)

// newSmokeCmd exercises the realtime path end to end against a running
// server: dial, auth handshake, a typing roundtrip, and optionally a
// heartbeat observation. Ping is server-initiated; the dispatcher answers
// pong on its own, so the check is "a ping arrived", not "a pong came back".
func newSmokeCmd(flags *rootFlags) *cobra.Command {
	var matchID string
	var heartbeatWait time.Duration

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run a realtime connectivity check against the configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := newEngine(flags)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := requireAuthenticated(engine); err != nil {
				return err
			}

			ctx := cmd.Context()

			pinged := make(chan struct{}, 1)
			dispose := engine.Bus().OnMessage(v1.TypePing, func([]byte) {
				select {
				case pinged <- struct{}{}:
				default:
				}
			})
			defer dispose()

			if err := engine.Conn().Connect(ctx); err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
			defer engine.Conn().Disconnect()
			fmt.Fprintln(cmd.OutOrStdout(), "handshake ok")

			steps := []struct {
				name  string
				frame any
			}{
				{"join_match", v1.NewJoinMatch(matchID)},
				{"typing on", v1.NewTyping(matchID, true)},
				{"typing off", v1.NewTyping(matchID, false)},
				{"leave_match", v1.NewLeaveMatch(matchID)},
			}
			for _, s := range steps {
				if !engine.Bus().Send(s.frame) {
					return fmt.Errorf("%s: connection not open", s.name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", s.name)
			}

			if heartbeatWait > 0 {
				select {
				case <-pinged:
					fmt.Fprintln(cmd.OutOrStdout(), "heartbeat ok")
				case <-time.After(heartbeatWait):
					return errors.New("no server heartbeat within deadline")
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "PASS")
			return nil
		},
	}

	cmd.Flags().StringVar(&matchID, "match", "smoke-match", "match id to use for the roundtrip")
	cmd.Flags().DurationVar(&heartbeatWait, "heartbeat-wait", 0, "wait this long for a server heartbeat (0 skips the check)")
	return cmd
}
