package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mergemeet/cmd/internal/chat"
	v1 "mergemeet/shared/contracts/realtime/v1"
)

func newTailCmd(flags *rootFlags) *cobra.Command {
	var matchID string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a conversation, printing messages as they arrive",
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
			if err := engine.Start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			dispose := engine.Bus().OnMessage(chat.EventMessageReceived, func(data []byte) {
				var frame v1.NewMessage
				if err := json.Unmarshal(data, &frame); err != nil {
					return
				}
				m := frame.Message
				if m.MatchID != matchID {
					return
				}
				fmt.Fprintf(out, "%s %s: %s\n", m.SentAt.Format("15:04:05"), m.SenderID, m.Content)
			})
			defer dispose()

			if err := engine.Chat().JoinMatch(ctx, matchID); err != nil {
				return err
			}
			defer engine.Chat().LeaveMatch(matchID)

			for _, m := range engine.Chat().Messages(matchID) {
				fmt.Fprintf(out, "%s %s: %s\n", m.SentAt.Format("15:04:05"), m.SenderID, m.Content)
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&matchID, "match", "", "match to follow")
	_ = cmd.MarkFlagRequired("match")
	return cmd
}
