package domain

import "time"

// PrincipalKind is the authentication mode that produced a Principal.
type PrincipalKind string

const (
	PrincipalKindAPIKey  PrincipalKind = "api-key"
	PrincipalKindUser    PrincipalKind = "user"
	PrincipalKindService PrincipalKind = "service"
)

// Principal is the authenticated caller identity resolved by AuthN. It is
// nil on a RequestContext exactly when the matched route is public or one
// of the fixed health endpoints.
type Principal struct {
	Kind          PrincipalKind
	ID            string
	TenantID      string
	TenantName    string
	Roles         map[string]struct{}
	SourceService string
}

// HasRole reports whether the principal carries any of the given roles.
func (p *Principal) HasRole(roles ...string) bool {
	if p == nil || len(p.Roles) == 0 {
		return false
	}
	for _, r := range roles {
		if _, ok := p.Roles[r]; ok {
			return true
		}
	}
	return false
}

// RolesFromSlice builds the roles set, never nil — an empty slice yields the
// empty set, which denies all role-gated actions per the data model
// invariant.
func RolesFromSlice(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// RouteMetadata is the static policy attached to a route: the resource and
// action it guards, the roles that bypass the policy table, and the public
// and skip-throttle escape hatches.
type RouteMetadata struct {
	Resource      string
	Action        string
	RequiredRoles []string
	Public        bool
	SkipThrottle  bool
	// Upstream is the backend service family this route is dispatched to.
	Upstream string
}

// RequestContext carries everything known about one in-flight request
// through the pipeline stages.
type RequestContext struct {
	CorrelationID string
	Method        string
	Path          string
	RemoteAddr    string
	Headers       map[string]string
	Principal     *Principal
	Route         RouteMetadata
	Start         time.Time
}

// IsHealthPath reports whether path is one of the fixed, always-public
// health endpoints (`/health`, `/api/health`, or any path ending `/health`).
func IsHealthPath(path string) bool {
	if path == "/health" || path == "/api/health" {
		return true
	}
	const suffix = "/health"
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}
