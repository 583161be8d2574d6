package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/validation"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"inbox"},
	Short:   "List conversations by latest activity (staff)",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := getAPI()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		rows, err := api.Conversations(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONVERSATION\tCUSTOMER\tUNREAD\tLAST\tFROM\tPREVIEW")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				row.ConversationKey,
				row.CustomerName,
				row.UnreadFor(models.SenderStaff),
				humanize.Time(row.LastMessage.CreatedAt),
				row.LastMessage.SenderKind,
				validation.TrimAndLimit(preview(row.LastMessage.Body), 60),
			)
		}
		return w.Flush()
	},
}

func preview(raw string) string {
	b := models.ParseBody(raw)
	switch b.Kind {
	case models.BodyImage:
		return "[image]"
	case models.BodyFile:
		return "[file] " + b.Name
	}
	return b.Text
}
