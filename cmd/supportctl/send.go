package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-key> <message...>",
	Short: "Send a message to a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := getAPI()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		// One client id for every attempt so a retried send is not duplicated.
		clientID := uuid.NewString()
		body := strings.Join(args[1:], " ")
		msg, err := api.Append(ctx, args[0], body, clientID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent message %d to %s at %s\n", msg.ID, msg.ConversationKey, msg.CreatedAt.Format(time.RFC3339))
		return nil
	},
}
