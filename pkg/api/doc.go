// Package api provides the HTTP server for the intranet portal.
//
// # Overview
//
// The server is built on gorilla/mux. Every request passes through the same
// middleware chain, outermost first:
//
//	request id -> recovery -> access log -> CORS -> authentication -> rate limit
//
// Authentication is optional at this layer: /api routes require a session,
// while gated pages let the access gate answer anonymous browsers with a
// sign-in page or a redirect.
//
// # Routes
//
//	GET  /api/me                      verified identity claims
//	GET  /api/me/role                 resolved role record or classified error
//	GET  /api/me/profile              Microsoft Graph profile
//	POST /api/access/check            evaluate gate.Requirements for the caller
//	GET  /api/admin/login-activity    recent sign-ins (login_activity:read)
//	GET  /*                           static client bundle, gated by route table
//
// Health checks and /metrics are served separately on the health port by
// NewHealthRouter.
//
// # Usage
//
//	server := api.NewServer(api.Options{
//		Verifier:  verifier,
//		Resolver:  resolver,
//		Routes:    routes,
//		StaticDir: "/srv/portal",
//	})
//	http.ListenAndServe(":8080", server)
package api
