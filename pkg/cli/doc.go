// Package cli implements the `portal` command.
//
// # Commands
//
//	portal serve                         run the API, gated bundle and health listener
//	portal migrate [--seed]              apply migrations, optionally seed built-in roles
//	portal assign <email> --role R       assign a role (and --division)
//	portal verify-token <token>          verify an access token, print claims
//	portal resolve <email>               print the resolved role record
//	portal check <email> [--role R] [--allowed A,B] [--perm r:a ...]
//	portal profile <email>               print the Microsoft Graph profile
//	portal sweep                         run one retention sweep
//
// Configuration comes from the environment (see package config). Command
// output is JSON on stdout; progress and diagnostics are logged to stderr.
// `check` exits non-zero when the decision is not authorized, so it can be
// used from scripts:
//
//	portal check ann@example.org --perm reports:write || echo "denied"
package cli
