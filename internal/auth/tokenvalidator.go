package auth

import "context"

// UserAccessEntry is one tenant-membership record inside a token
// introspection response.
type UserAccessEntry struct {
	TenantID   string
	TenantName string
	Type       string // e.g. "ADMIN"
}

// UserData is the introspection result for a bearer token. Per the
// open question in spec §9, only these fields are authoritative — any
// other field the identity provider returns is ignored.
type UserData struct {
	ID         string
	Email      string
	UserAccess []UserAccessEntry
}

// TokenValidator is the narrow interface onto the remote identity provider
// (out of scope per spec §1; consumed here only through this interface).
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*UserData, error)
}
