// Package pipeline implements the pipeline glue (spec §4.8): the strict
// per-request ordering ingress -> correlation-id -> log begin -> AuthN ->
// AuthZ -> RateLimiter -> business handler (Dispatcher, wrapped in
// CircuitBreaker + ResponseCache) -> ExceptionMapper -> log end. Any stage
// failure short-circuits straight to the ExceptionMapper; rate-limit
// headers are written regardless of outcome.
//
// Grounded on the teacher's pkg/gateway orchestration shape — a single
// struct wiring every stage's dependency via constructor injection (spec
// §9's replacement for a DI container) — generalized from the teacher's
// provider/frontdoor dispatch to this gateway's AuthN/AuthZ/RateLimiter/
// Dispatcher chain.
package pipeline

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/riftgate/gateway/internal/auth"
	"github.com/riftgate/gateway/internal/authz"
	"github.com/riftgate/gateway/internal/cache"
	"github.com/riftgate/gateway/internal/dispatcher"
	"github.com/riftgate/gateway/internal/domain"
	"github.com/riftgate/gateway/internal/gatewayerr"
	"github.com/riftgate/gateway/internal/ratelimit"
	"github.com/riftgate/gateway/internal/route"
	"github.com/riftgate/gateway/internal/server"
	"github.com/riftgate/gateway/internal/spool"
)

// upstreamPrefixes maps the mounted path prefix to the upstream name the
// dispatcher knows it by.
var upstreamPrefixes = []struct {
	prefix   string
	upstream string
}{
	{"/api/service-a", domain.UpstreamServiceA},
	{"/api/service-b", domain.UpstreamServiceB},
	{"/api/service-c", domain.UpstreamServiceC},
}

// Pipeline wires every stage and serves as the terminal handler for the
// entire /api surface.
type Pipeline struct {
	Routes        *route.Table
	Authenticator *auth.Authenticator
	Authorizer    *authz.Authorizer
	Limiter       *ratelimit.Limiter
	Dispatcher    *dispatcher.Dispatcher
	Mapper        *gatewayerr.Mapper
	Spool         *spool.Manager
	Logger        *slog.Logger
}

// ServeHTTP implements http.Handler. It is mounted as the router's
// catch-all ("/*") behind the correlation-id, logging, and
// rate-limit-header transport middleware (internal/server).
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := server.GetRequestID(r.Context())

	meta, ok := p.Routes.Match(r.Method, r.URL.Path)
	if !ok {
		p.Mapper.Write(w, r, requestID, domain.NewNotFound("no such route"))
		return
	}

	principal, gerr := p.Authenticator.Authenticate(r.Context(), meta, r.URL.Path, r.Header)
	if gerr != nil {
		server.AddError(r.Context(), gerr)
		p.Mapper.Write(w, r, requestID, gerr)
		return
	}

	if !meta.Public && !domain.IsHealthPath(r.URL.Path) {
		if gerr := p.Authorizer.Authorize(principal, meta); gerr != nil {
			server.AddError(r.Context(), gerr)
			p.Mapper.Write(w, r, requestID, gerr)
			return
		}
	}

	r, limitErr := p.applyRateLimit(r, meta, principal)
	if limitErr != nil {
		server.AddError(r.Context(), limitErr)
		p.Mapper.Write(w, r, requestID, limitErr)
		return
	}

	resp, gerr := p.dispatch(r, meta, principal, requestID)
	if gerr != nil {
		server.AddError(r.Context(), gerr)
		p.Mapper.Write(w, r, requestID, gerr)
		return
	}

	if resp.ContentDisposition != "" {
		w.Header().Set("Content-Disposition", resp.ContentDisposition)
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// applyRateLimit evaluates the identity-scoped limit and, when applicable,
// the tenant-scoped one, stashing both on r's context for the header
// middleware to emit regardless of the eventual outcome. It returns the
// request (with the decisions attached) and a TooManyRequests error when
// either check is exceeded.
func (p *Pipeline) applyRateLimit(r *http.Request, meta domain.RouteMetadata, principal *domain.Principal) (*http.Request, *domain.GatewayError) {
	if meta.SkipThrottle || meta.Public || domain.IsHealthPath(r.URL.Path) {
		return r, nil
	}

	var principalID, tenantID string
	if principal != nil {
		principalID = principal.ID
		tenantID = principal.TenantID
	}
	identity := ratelimit.DeriveIdentity(r.Header.Get(auth.HeaderAPIKey), principalID, remoteIP(r))

	decision := p.Limiter.Check(r.Context(), identity, r.Method, meta.Resource)
	info := &server.RateLimitInfo{Decision: decision}

	var limited = decision.Limited
	if tenantDecision, applied := p.Limiter.CheckTenant(r.Context(), tenantID, r.Method, meta.Resource); applied {
		info.TenantDecision = &tenantDecision
		limited = limited || tenantDecision.Limited
	}

	r = r.WithContext(server.SetRateLimits(r.Context(), info))
	if limited {
		return r, domain.NewTooManyRequests("rate limit exceeded")
	}
	return r, nil
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// dispatch builds the dispatcher.Request for the matched route and invokes
// the Dispatcher. Caching and invalidation keys are derived from the
// resource so GET reads memoize and mutations invalidate their own item
// key, their resource's list key, and any aggregate keys for the upstream.
func (p *Pipeline) dispatch(r *http.Request, meta domain.RouteMetadata, principal *domain.Principal, requestID string) (*dispatcher.Response, *domain.GatewayError) {
	upstreamPath := stripUpstreamPrefix(r.URL.Path)

	var tenantID string
	if principal != nil {
		tenantID = principal.TenantID
	}

	forwarded := map[string]string{}
	if principal != nil {
		if principal.TenantName != "" {
			forwarded[auth.HeaderTenantName] = principal.TenantName
		}
		if principal.SourceService != "" {
			forwarded[auth.HeaderSourceService] = principal.SourceService
		}
	}

	req := dispatcher.Request{
		Upstream:      meta.Upstream,
		Method:        r.Method,
		Path:          upstreamPath,
		Query:         r.URL.Query(),
		CorrelationID: requestID,
		TenantID:      tenantID,
		Forwarded:     forwarded,
	}

	isGet := strings.EqualFold(r.Method, http.MethodGet)
	if isGet {
		req.CacheKey = cache.Key(meta.Upstream, tenantID, meta.Resource, upstreamPath)
		req.CacheTTL = cacheTTLFor(meta.Resource)
		if meta.Resource == "files" && isDownload(r) {
			req.Download = true
			req.DownloadFilename = path.Base(upstreamPath)
		}
	} else {
		keys := []string{
			cache.Key(meta.Upstream, tenantID, meta.Resource, upstreamPath),
			cache.Key(meta.Upstream, tenantID, meta.Resource, "/"+meta.Resource),
		}
		for _, agg := range aggregateResources[meta.Upstream] {
			keys = append(keys, cache.Key(meta.Upstream, tenantID, agg, "/"+agg))
		}
		req.InvalidateKeys = keys
	}

	if r.Body != nil {
		defer r.Body.Close()
	}

	if !isGet && isMultipart(r) {
		mp, spooled, gerr := p.spoolMultipart(r, tenantID)
		if gerr != nil {
			return nil, gerr
		}
		if spooled != nil {
			defer spooled.Cleanup()
		}
		req.Multipart = mp
	} else if !isGet && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, domain.NewBadRequest("failed to read request body")
		}
		req.Body = body
	}

	return p.Dispatcher.Dispatch(r.Context(), req)
}

// isDownload reports whether a GET against the files resource wants the raw
// upstream body streamed back verbatim (spec §4.6) rather than envelope-
// wrapped.
func isDownload(r *http.Request) bool {
	if r.URL.Query().Get("download") != "" {
		return true
	}
	return strings.HasSuffix(r.URL.Path, "/download")
}

// isMultipart reports whether r carries a multipart/form-data body.
func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// multipartFieldName is the form field the gateway expects the uploaded
// file under, per spec §4.6.
const multipartFieldName = "file"

// spoolMultipart parses the inbound multipart form, writes the uploaded
// file to the tenant-scoped spool (spec §9's request-lifetime upload
// manager), and returns a MultipartUpload ready for the dispatcher to
// forward. The caller must Cleanup() the returned Spooled file once the
// request completes, regardless of outcome.
func (p *Pipeline) spoolMultipart(r *http.Request, tenantID string) (*dispatcher.MultipartUpload, *spool.Spooled, *domain.GatewayError) {
	if err := r.ParseMultipartForm(dispatcher.MaxUploadBytes); err != nil {
		return nil, nil, domain.NewPayloadTooLarge("uploaded file exceeds the maximum allowed size")
	}

	file, header, err := r.FormFile(multipartFieldName)
	if err != nil {
		return nil, nil, domain.NewBadRequest("missing uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, domain.NewInternal("failed to read uploaded file").WithCause(err)
	}

	var spooled *spool.Spooled
	if p.Spool != nil {
		spooled, err = p.Spool.Create(tenantID, header.Filename, data)
		if err != nil {
			return nil, nil, domain.NewInternal("failed to spool uploaded file").WithCause(err)
		}
	}

	return &dispatcher.MultipartUpload{
		FieldName: multipartFieldName,
		FileName:  header.Filename,
		Data:      data,
	}, spooled, nil
}

// referenceListResources are the "reference list" resources that get the
// longer 600s cache TTL (spec §4.5); everything else gets the 300s
// per-item default.
var referenceListResources = map[string]struct{}{
	"categories": {},
	"statistics": {},
	"folders":    {},
}

func cacheTTLFor(resource string) time.Duration {
	if _, ok := referenceListResources[resource]; ok {
		return cache.DefaultListTTL
	}
	return cache.DefaultItemTTL
}

// aggregateResources are the read-only aggregate/summary resources per
// upstream whose cached responses go stale whenever any other resource in
// that upstream family is written (spec §4.5: "aggregate keys such as
// categories/statistics").
var aggregateResources = map[string][]string{
	domain.UpstreamServiceA: {"categories", "statistics"},
	domain.UpstreamServiceC: {"folders"},
}

func stripUpstreamPrefix(path string) string {
	for _, e := range upstreamPrefixes {
		if strings.HasPrefix(path, e.prefix) {
			rest := strings.TrimPrefix(path, e.prefix)
			if rest == "" {
				return "/"
			}
			return rest
		}
	}
	return path
}
