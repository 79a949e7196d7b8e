package cli

import (
	"github.com/spf13/cobra"

	"github.com/platinummonkey/portal/pkg/activity"
)

func newSweepCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one login activity retention sweep now",
		Long: `Delete login activity older than PORTAL_ACTIVITY_RETENTION, archiving it to
S3 first when PORTAL_ACTIVITY_ARCHIVE_ENABLED is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			logger := serviceLogger(cmd.ErrOrStderr())

			cm, err := e.openDatabase(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cm.Close()

			sweeper, err := newSweeper(ctx, cfg, activity.NewPostgresStore(cm.Primary()), logger, nil)
			if err != nil {
				return err
			}
			result, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			e.log.WithFields(map[string]interface{}{
				"archived": result.Archived,
				"purged":   result.Purged,
			}).Info("Sweep complete")
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
