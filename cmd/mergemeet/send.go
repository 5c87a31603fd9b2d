package main

import (
	"errors"

	"github.com/spf13/cobra"

	v1 "mergemeet/shared/contracts/realtime/v1"
)

func newSendCmd(flags *rootFlags) *cobra.Command {
	var matchID, text, messageType string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message into a match",
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

			if !engine.Chat().SendMessage(matchID, text, messageType) {
				return errors.New("connection not open, message not sent")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&matchID, "match", "", "destination match")
	cmd.Flags().StringVar(&text, "text", "", "message body")
	cmd.Flags().StringVar(&messageType, "type", v1.MessageTypeText, "message type")
	_ = cmd.MarkFlagRequired("match")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
