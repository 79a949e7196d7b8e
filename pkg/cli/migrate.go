package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/portal/pkg/rbac"
)

func newMigrateCommand(e *env) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Create the roles, divisions, user_roles, staff and login_activity tables and
the get_user_role function. With --seed the built-in roles are inserted too.`,
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

			e.log.Info("Applying migrations")
			if err := rbac.RunMigrations(ctx, cm.Primary(), logger); err != nil {
				return err
			}
			e.log.Info("Migrations complete")

			if !seed {
				return nil
			}
			created, err := rbac.NewPostgresStore(cm.Primary()).SeedRoles(ctx, rbac.BuiltInRoles())
			if err != nil {
				return err
			}
			e.log.WithField("created", created).Info("Seeded built-in roles")
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d role(s)\n", created)
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "Insert the built-in roles, leaving existing ones untouched")
	return cmd
}

func newAssignCommand(e *env) *cobra.Command {
	var (
		role     string
		division string
	)

	cmd := &cobra.Command{
		Use:   "assign <email>",
		Short: "Assign a role to a staff member",
		Args:  cobra.ExactArgs(1),
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

			if err := rbac.NewPostgresStore(cm.Primary()).AssignRole(ctx, args[0], role, division); err != nil {
				return err
			}
			e.log.WithFields(map[string]interface{}{
				"email":    args[0],
				"role":     role,
				"division": division,
			}).Info("Role assigned")
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role name, e.g. \"Finance Officer\"")
	cmd.Flags().StringVar(&division, "division", "", "Division name (optional)")
	cmd.MarkFlagRequired("role")
	return cmd
}
