// Package identity verifies Microsoft Entra ID bearer tokens and carries the
// resulting Session through request contexts.
//
// A Verifier checks an RS256 token against the tenant's published JWKS,
// the exact v2.0 issuer and a single configured audience:
//
//	v := identity.NewVerifier(ctx, identity.Config{
//		Audience: os.Getenv("AZURE_AUDIENCE"),
//		TenantID: os.Getenv("AZURE_TENANT_ID"),
//	})
//	claims, err := v.Verify(ctx, token)
//
// Verification failures are reported as ErrInvalidToken only; the underlying
// cause is logged and never returned. A missing audience is ErrConfiguration.
package identity
