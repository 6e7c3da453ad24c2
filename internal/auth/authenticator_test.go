package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/riftgate/gateway/internal/domain"
)

type fakeValidator struct {
	data *UserData
	err  error
}

func (f *fakeValidator) Validate(ctx context.Context, token string) (*UserData, error) {
	return f.data, f.err
}

func headers(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestAuthenticatePublicRouteSkipsAuthN(t *testing.T) {
	a := New(Config{})
	p, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{Public: true}, "/widgets", headers())
	if gerr != nil || p != nil {
		t.Fatalf("expected nil principal and nil error for public route, got %+v %v", p, gerr)
	}
}

func TestAuthenticateHealthPathSkipsAuthN(t *testing.T) {
	a := New(Config{})
	p, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/api/health", headers())
	if gerr != nil || p != nil {
		t.Fatalf("expected nil principal and nil error for health path, got %+v %v", p, gerr)
	}
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	a := New(Config{})
	_, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets", headers())
	if gerr == nil || gerr.Type != domain.ErrorTypeUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", gerr)
	}
}

func TestAuthenticateAPIKeyInvalid(t *testing.T) {
	a := New(Config{StaticAPIKeys: []string{"good-key"}})
	_, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAPIKey, "bad-key"))
	if gerr == nil || gerr.Type != domain.ErrorTypeUnauthorized {
		t.Fatalf("expected Unauthorized for bad key, got %v", gerr)
	}
}

func TestAuthenticateAPIKeyValidCarriesHeaders(t *testing.T) {
	a := New(Config{StaticAPIKeys: []string{"good-key"}})
	p, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAPIKey, "good-key", HeaderTenantID, "t1", HeaderTenantName, "Acme", HeaderUserRole, "admin"))
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if p.Kind != domain.PrincipalKindAPIKey || p.TenantID != "t1" || !p.HasRole("admin") {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestAuthenticateAPIKeyRecognizedServiceSynthesizesAdmin(t *testing.T) {
	a := New(Config{StaticAPIKeys: []string{"good-key"}, RecognizedServices: []string{"billing-svc"}})
	p, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAPIKey, "good-key", HeaderSourceService, "billing-svc"))
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if p.Kind != domain.PrincipalKindService || !p.HasRole("admin") || p.SourceService != "billing-svc" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestAuthenticateBearerMissingTenantHeader(t *testing.T) {
	a := New(Config{Validator: &fakeValidator{}})
	_, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAuthorization, "Bearer abc"))
	if gerr == nil || gerr.Type != domain.ErrorTypeUnauthorized {
		t.Fatalf("expected Unauthorized for missing tenant header, got %v", gerr)
	}
}

func TestAuthenticateBearerUnsupportedScheme(t *testing.T) {
	a := New(Config{Validator: &fakeValidator{}})
	_, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAuthorization, "Basic abc", HeaderTenantID, "t1"))
	if gerr == nil || gerr.Type != domain.ErrorTypeUnauthorized {
		t.Fatalf("expected Unauthorized for unsupported scheme, got %v", gerr)
	}
}

func TestAuthenticateBearerValidatorError(t *testing.T) {
	a := New(Config{Validator: &fakeValidator{err: errors.New("introspection down")}})
	_, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAuthorization, "Bearer abc", HeaderTenantID, "t1"))
	if gerr == nil || gerr.Type != domain.ErrorTypeUnauthorized {
		t.Fatalf("expected Unauthorized on validator error, got %v", gerr)
	}
}

// TestAuthenticateBearerTenantMismatchIsUnauthorized verifies the spec's
// testable boundary: a token whose userAccess omits the requested tenant
// yields Unauthorized, not Forbidden — tenant membership is an AuthN
// concern, role/action is AuthZ's.
func TestAuthenticateBearerTenantMismatchIsUnauthorized(t *testing.T) {
	a := New(Config{Validator: &fakeValidator{data: &UserData{
		ID: "u1",
		UserAccess: []UserAccessEntry{
			{TenantID: "other-tenant", TenantName: "Other", Type: "USER"},
		},
	}}})
	_, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAuthorization, "Bearer abc", HeaderTenantID, "t1"))
	if gerr == nil || gerr.Type != domain.ErrorTypeUnauthorized {
		t.Fatalf("expected Unauthorized for tenant mismatch, got %v", gerr)
	}
}

func TestAuthenticateBearerValidGrantsRole(t *testing.T) {
	a := New(Config{Validator: &fakeValidator{data: &UserData{
		ID: "u1",
		UserAccess: []UserAccessEntry{
			{TenantID: "t1", TenantName: "Acme", Type: "ADMIN"},
		},
	}}})
	p, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAuthorization, "Bearer abc", HeaderTenantID, "t1"))
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if p.Kind != domain.PrincipalKindUser || p.TenantID != "t1" || !p.HasRole("admin") {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestAuthenticateBearerNoValidatorConfigured(t *testing.T) {
	a := New(Config{})
	_, gerr := a.Authenticate(context.Background(), domain.RouteMetadata{}, "/widgets",
		headers(HeaderAuthorization, "Bearer abc", HeaderTenantID, "t1"))
	if gerr == nil || gerr.Type != domain.ErrorTypeUnauthorized {
		t.Fatalf("expected Unauthorized with no validator configured, got %v", gerr)
	}
}
