// Package auth implements AuthN (spec §4.1): resolving a domain.Principal
// from either a static API-key allow-list or a remote bearer-token
// introspection, or skipping authentication entirely for public/health
// routes.
//
// Grounded on the teacher's internal/auth/auth.go (SHA-256 key hashing,
// constant-time comparison) and internal/tenant/tenant.go (tenant/API-key
// record shape), generalized from a single-tenant-lookup model to the
// spec's comma-separated static allow-list plus remote-introspection modes.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/riftgate/gateway/internal/domain"
)

// Headers consumed by AuthN, per spec §6.
const (
	HeaderAPIKey        = "X-Api-Key"
	HeaderAuthorization = "Authorization"
	HeaderTenantID      = "X-Tenant-Id"
	HeaderTenantName    = "X-Tenant-Name"
	HeaderUserEmail     = "X-User-Email"
	HeaderUserRole      = "X-User-Role"
	HeaderSourceService = "X-Source-Service"
)

// Config configures the Authenticator.
type Config struct {
	// StaticAPIKeys is the allow-list of valid API keys (comma-split from
	// STATIC_API_TOKEN).
	StaticAPIKeys []string
	// RecognizedServices names internal services whose X-Source-Service
	// tag, absent explicit trust headers, synthesizes an admin service
	// principal.
	RecognizedServices []string
	Validator          TokenValidator
}

// Authenticator implements AuthN.
type Authenticator struct {
	staticKeys map[string]struct{}
	recognized map[string]struct{}
	validator  TokenValidator
}

// New builds an Authenticator from the allow-list and recognized-service
// configuration.
func New(cfg Config) *Authenticator {
	staticKeys := make(map[string]struct{}, len(cfg.StaticAPIKeys))
	for _, k := range cfg.StaticAPIKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			staticKeys[hashKey(k)] = struct{}{}
		}
	}
	recognized := make(map[string]struct{}, len(cfg.RecognizedServices))
	for _, s := range cfg.RecognizedServices {
		recognized[s] = struct{}{}
	}
	return &Authenticator{staticKeys: staticKeys, recognized: recognized, validator: cfg.Validator}
}

// Authenticate resolves a Principal for the given route and headers, or
// returns a typed GatewayError. It returns (nil, nil) when the route is
// public or a health endpoint — AuthN is skipped entirely.
func (a *Authenticator) Authenticate(ctx context.Context, route domain.RouteMetadata, path string, headers http.Header) (*domain.Principal, *domain.GatewayError) {
	if route.Public || domain.IsHealthPath(path) {
		return nil, nil
	}

	apiKey := strings.TrimSpace(headers.Get(HeaderAPIKey))
	authz := strings.TrimSpace(headers.Get(HeaderAuthorization))

	switch {
	case apiKey != "":
		return a.authenticateAPIKey(apiKey, headers)
	case authz != "":
		return a.authenticateBearer(ctx, authz, headers)
	default:
		return nil, domain.NewUnauthorized("missing credentials")
	}
}

func (a *Authenticator) authenticateAPIKey(apiKey string, headers http.Header) (*domain.Principal, *domain.GatewayError) {
	if !a.validAPIKey(apiKey) {
		return nil, domain.NewUnauthorized("invalid API key")
	}

	email := headers.Get(HeaderUserEmail)
	role := headers.Get(HeaderUserRole)
	tenantName := headers.Get(HeaderTenantName)
	tenantID := headers.Get(HeaderTenantID)
	source := headers.Get(HeaderSourceService)

	if email == "" && role == "" && tenantName == "" && tenantID == "" && source != "" {
		if _, ok := a.recognized[source]; ok {
			return &domain.Principal{
				Kind:          domain.PrincipalKindService,
				ID:            source,
				TenantID:      headers.Get(HeaderTenantID),
				TenantName:    tenantName,
				Roles:         domain.RolesFromSlice([]string{"admin"}),
				SourceService: source,
			}, nil
		}
	}

	roles := []string{}
	if role != "" {
		roles = append(roles, role)
	}

	return &domain.Principal{
		Kind:          domain.PrincipalKindAPIKey,
		ID:            apiKey,
		TenantID:      tenantID,
		TenantName:    tenantName,
		Roles:         domain.RolesFromSlice(roles),
		SourceService: source,
	}, nil
}

func (a *Authenticator) validAPIKey(apiKey string) bool {
	hash := hashKey(apiKey)
	for k := range a.staticKeys {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return string(sum[:])
}

func (a *Authenticator) authenticateBearer(ctx context.Context, authzHeader string, headers http.Header) (*domain.Principal, *domain.GatewayError) {
	token := extractBearerToken(authzHeader)
	if token == "" {
		return nil, domain.NewUnauthorized("unsupported authorization scheme")
	}

	tenantID := strings.TrimSpace(headers.Get(HeaderTenantID))
	if tenantID == "" {
		return nil, domain.NewUnauthorized("missing tenant header")
	}

	if a.validator == nil {
		return nil, domain.NewUnauthorized("token introspection unavailable")
	}

	userData, err := a.validator.Validate(ctx, token)
	if err != nil {
		// Upstream detail is not leaked to the client; callers log err.
		return nil, domain.NewUnauthorized("invalid or expired token").WithCause(err)
	}

	var match *UserAccessEntry
	for i := range userData.UserAccess {
		if userData.UserAccess[i].TenantID == tenantID {
			match = &userData.UserAccess[i]
			break
		}
	}
	if match == nil {
		return nil, domain.NewUnauthorized("token not authorized for tenant")
	}

	role := "user"
	if strings.EqualFold(match.Type, "ADMIN") {
		role = "admin"
	}

	return &domain.Principal{
		Kind:       domain.PrincipalKindUser,
		ID:         userData.ID,
		TenantID:   match.TenantID,
		TenantName: match.TenantName,
		Roles:      domain.RolesFromSlice([]string{role}),
	}, nil
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
