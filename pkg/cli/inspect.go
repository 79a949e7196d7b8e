package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/portal/pkg/gate"
	"github.com/platinummonkey/portal/pkg/graph"
	"github.com/platinummonkey/portal/pkg/identity"
	"github.com/platinummonkey/portal/pkg/rbac"
)

func newVerifyTokenCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-token <token>",
		Short: "Verify an Entra ID access token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}

			verifier := identity.NewVerifier(ctx, cfg.Azure, identity.WithLogger(serviceLogger(cmd.ErrOrStderr())))
			claims, err := verifier.Verify(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				e.log.WithFields(map[string]interface{}{
					"issuer":   cfg.Azure.Issuer(),
					"audience": cfg.Azure.Audience,
				}).Error("Token rejected")
				return err
			}
			return printJSON(cmd.OutOrStdout(), claims)
		},
	}
}

func newResolveCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <email>",
		Short: "Resolve the portal role for an email",
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

			resolver := rbac.NewResolver(rbac.NewPostgresStore(cm.Primary()),
				rbac.WithTimeout(cfg.RoleTimeout), rbac.WithLogger(logger))
			role, err := resolver.Resolve(ctx, args[0])
			if err != nil {
				e.reportResolution(err)
				return err
			}
			return printJSON(cmd.OutOrStdout(), role)
		},
	}
}

func newCheckCommand(e *env) *cobra.Command {
	var (
		requiredRole string
		allowedRoles []string
		permissions  []string
	)

	cmd := &cobra.Command{
		Use:   "check <email>",
		Short: "Evaluate page requirements for an email",
		Long: `Resolve the role for an email and evaluate it the way the access gate
would. Prints the decision and exits non-zero unless it is authorized.`,
		Example: `  portal check ann@example.org --perm reports:write
  portal check ann@example.org --allowed "Staff,Finance Officer"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := gate.Requirements{RequiredRole: requiredRole, AllowedRoles: allowedRoles}
			for _, raw := range permissions {
				p, err := rbac.ParsePermission(raw)
				if err != nil {
					return err
				}
				req.RequiredPermissions = append(req.RequiredPermissions, p)
			}

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

			resolver := rbac.NewResolver(rbac.NewPostgresStore(cm.Primary()),
				rbac.WithTimeout(cfg.RoleTimeout), rbac.WithLogger(logger))
			role, resolveErr := resolver.Resolve(ctx, args[0])
			if resolveErr != nil {
				e.reportResolution(resolveErr)
			}

			d := gate.Evaluate(role, resolveErr, req)
			if err := printJSON(cmd.OutOrStdout(), d); err != nil {
				return err
			}
			if d.State != gate.Authorized {
				return fmt.Errorf("%w: %s", ErrAccessDenied, d.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&requiredRole, "role", "", "Exact role name required")
	cmd.Flags().StringSliceVar(&allowedRoles, "allowed", nil, "Comma-separated roles, any of which is accepted")
	cmd.Flags().StringArrayVar(&permissions, "perm", nil, "Required permission as resource:action (repeatable)")
	return cmd
}

// reportResolution logs operator guidance for a failed resolution
func (e *env) reportResolution(err error) {
	var re *rbac.ResolutionError
	if !errors.As(err, &re) {
		e.log.WithError(err).Error("Role resolution failed")
		return
	}
	entry := e.log.WithField("kind", re.Kind.Error())
	if re.Remediation != "" {
		entry = entry.WithField("remediation", re.Remediation)
	}
	entry.Error(re.Message)
}

func newProfileCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <email>",
		Short: "Fetch the Microsoft Graph directory profile for an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Graph.Enabled() {
				return fmt.Errorf("%w: set PORTAL_GRAPH_CLIENT_ID and PORTAL_GRAPH_CLIENT_SECRET", graph.ErrNotConfigured)
			}

			client := graph.NewClient(ctx, cfg.Graph, graph.WithLogger(serviceLogger(cmd.ErrOrStderr())))
			profile, err := client.Profile(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), profile)
		},
	}
}
