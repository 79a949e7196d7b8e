// Package config loads the portal configuration from the environment.
//
// Entra ID settings keep their AZURE_ names; everything else is PORTAL_*.
//
//	AZURE_AUDIENCE="api://portal"          # required for token verification
//	AZURE_TENANT_ID="contoso.onmicrosoft.com"
//
//	PORTAL_SERVER_PORT="8080"
//	PORTAL_SERVER_HEALTH_PORT="9090"
//	PORTAL_DB_URL="postgres://portal@db/portal?sslmode=require"
//	PORTAL_DB_REPLICA_URLS="postgres://replica1/portal,postgres://replica2/portal"
//	PORTAL_REDIS_URL="redis://redis:6379"
//	PORTAL_CACHE_ENABLED="true"
//	PORTAL_CACHE_TTL="30s"
//	PORTAL_ROLE_TIMEOUT="12s"
//	PORTAL_ACTIVITY_RETENTION="2160h"
//	PORTAL_ACTIVITY_RETENTION_SCHEDULE="30 3 * * *"
//	PORTAL_ACTIVITY_ARCHIVE_ENABLED="true"
//	PORTAL_ACTIVITY_ARCHIVE_BUCKET="portal-audit"
//	PORTAL_GRAPH_CLIENT_ID / PORTAL_GRAPH_CLIENT_SECRET
//	PORTAL_STATIC_DIR="/srv/portal"
//	PORTAL_ROUTES_FILE="/etc/portal/routes.yaml"
//	PORTAL_LOG_LEVEL="info"
//	PORTAL_OTEL_ENABLED="true"
//
// Load validates struct rules with go-playground/validator and then the
// rules that span sections. The database URL is only demanded by the
// commands that need it (RequireDatabase).
package config
