package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(presenceCmd)
}

var presenceCmd = &cobra.Command{
	Use:   "presence [scope]",
	Short: "Show who is online",
	Long:  "Show who is online in a scope. The default scope is staff; pass a conversation key to see its customer.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := getAPI()
		if err != nil {
			return err
		}
		scope := presence.StaffScope
		if len(args) == 1 {
			scope = args[0]
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		online, err := api.Presence(ctx, scope)
		if err != nil {
			return err
		}
		if len(online) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Nobody online in %s.\n", scope)
			return nil
		}
		for _, t := range online {
			name := t.DisplayName
			if name == "" {
				name = t.ActorID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) since %s\n", name, t.ActorID, t.At.Local().Format(time.Kitchen))
		}
		return nil
	},
}
