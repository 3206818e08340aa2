package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/storage"
	"github.com/spf13/cobra"
)

func newAuditCommand(out io.Writer, configPath *string) *cobra.Command {
	var (
		userID    int64
		eventType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit trail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			filter := storage.AuditFilter{EventType: eventType, Limit: limit}
			if cmd.Flags().Changed("user") {
				filter.UserID = &userID
			}

			events, err := rt.store.ListAudit(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, event := range events {
				user := "-"
				if event.UserID != nil {
					user = fmt.Sprintf("%d", *event.UserID)
				}
				if _, err := fmt.Fprintf(out, "%s\tuser=%s\t%s\t%s\n",
					event.CreatedAt.Format(time.RFC3339), user, event.EventType, event.EventData); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Filter by user id")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to list")
	return cmd
}
