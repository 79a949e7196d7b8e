// Package postgres opens the portal's database and Redis connections.
//
// ConnectionManager holds the primary (role lookups, login-activity writes)
// and optional read replicas (login-activity listings). Replicas that fail a
// ping are dropped by the health routine; reads fall back to the primary when
// none remain.
//
//	cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
//		PrimaryURL:  cfg.Database.URL,
//		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
//	}, logger)
//	defer cm.Close()
//
// NewRedisClient returns a pinged go-redis client for the role cache and the
// distributed rate limiter.
package postgres
