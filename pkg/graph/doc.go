// Package graph reads staff profiles from Microsoft Graph with an app-only
// (client credentials) token.
//
//	client := graph.NewClient(ctx, graph.Config{TenantID: t, ClientID: id, ClientSecret: s})
//	profile, err := client.Profile(ctx, "ann@example.org")
//	if errors.Is(err, graph.ErrUserNotFound) { ... }
//
// The profile enriches the portal's own view of the caller; it never takes
// part in an access decision.
package graph
