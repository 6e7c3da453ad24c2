// Package dispatcher turns a validated request into an outbound UpstreamCall,
// invokes it through the circuit breaker and response cache, and normalizes
// the result back into the gateway's envelope shape (spec §4.6).
//
// Grounded on the teacher's internal/backend/openai/client.go HTTP-client
// shape (functional options, single Do-then-decode path) and
// internal/codec/errors.go's status-to-kind mapping, generalized from a
// single upstream to the dispatcher's per-upstream registry and extended
// with the breaker/cache wrapping and multipart/download handling the
// teacher's LLM proxy never needed.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/riftgate/gateway/internal/breaker"
	"github.com/riftgate/gateway/internal/cache"
	"github.com/riftgate/gateway/internal/domain"
)

// DefaultTimeout is the per-call timeout applied to every upstream call.
const DefaultTimeout = 30 * time.Second

// MaxUploadBytes is the multipart upload size limit (spec §4.6).
const MaxUploadBytes = 10 << 20 // 10 MiB

// AllowedUploadExtensions is the allow-list of multipart upload file
// extensions, without the leading dot.
var AllowedUploadExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "pdf": {},
	"doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "txt": {}, "csv": {},
}

// UpstreamConfig is one backend family's base URL and outbound API key.
type UpstreamConfig struct {
	BaseURL string
	APIKey  string
}

// MultipartUpload describes a forwarded file upload.
type MultipartUpload struct {
	FieldName string
	FileName  string
	Data      []byte
}

// Request describes one call the pipeline wants dispatched.
type Request struct {
	Upstream      string
	Method        string
	Path          string // upstream-relative, e.g. "/items/42"
	Query         url.Values
	Body          []byte
	CorrelationID string
	TenantID      string
	Forwarded     map[string]string // e.g. X-User-Email, X-User-Role, forwarded as-is

	// CacheKey, when non-empty on a GET, enables read-through caching.
	CacheKey string
	CacheTTL time.Duration
	// InvalidateKeys are removed from the cache after a successful mutation.
	InvalidateKeys []string

	Multipart *MultipartUpload

	// Download, when true, streams the raw response body back verbatim
	// instead of normalizing it into a success envelope.
	Download         bool
	DownloadFilename string
}

// Response is the dispatcher's result, ready for the pipeline to write.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	// ContentDisposition is set only for Download responses.
	ContentDisposition string
}

// Dispatcher dispatches requests to configured upstreams, each guarded by its
// own circuit breaker and an opt-in response cache.
type Dispatcher struct {
	upstreams  map[string]UpstreamConfig
	httpClient *http.Client
	breakers   *breaker.Registry
	cache      *cache.Cache
}

// New builds a Dispatcher.
func New(upstreams map[string]UpstreamConfig, httpClient *http.Client, breakers *breaker.Registry, respCache *cache.Cache) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Dispatcher{upstreams: upstreams, httpClient: httpClient, breakers: breakers, cache: respCache}
}

// Dispatch executes req against its configured upstream.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, *domain.GatewayError) {
	cfg, ok := d.upstreams[req.Upstream]
	if !ok {
		return nil, domain.NewInternal(fmt.Sprintf("unknown upstream %q", req.Upstream))
	}

	isGet := strings.EqualFold(req.Method, http.MethodGet)
	if isGet && req.CacheKey != "" && d.cache != nil {
		if body, hit := d.cache.Get(ctx, req.CacheKey); hit {
			return &Response{StatusCode: http.StatusOK, Body: body, ContentType: "application/json"}, nil
		}
	}

	br := d.breakers.For(req.Upstream)
	now := time.Now()
	if !br.Allow(now) {
		return nil, domain.NewServiceUnavailable(fmt.Sprintf("%s is currently unavailable", req.Upstream))
	}

	call, err := d.buildCall(cfg, req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, call.Timeout)
	defer cancel()

	httpReq, buildErr := d.buildHTTPRequest(callCtx, call)
	if buildErr != nil {
		return nil, domain.NewInternal("failed to build upstream request").WithCause(buildErr)
	}

	resp, doErr := d.httpClient.Do(httpReq)
	if doErr != nil {
		gerr := translateTransportError(doErr)
		br.RecordFailure(time.Now(), doErr.Error())
		return nil, gerr
	}
	defer resp.Body.Close()

	rawBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		br.RecordFailure(time.Now(), readErr.Error())
		return nil, domain.NewInternal("failed to read upstream response").WithCause(readErr)
	}

	// Only transport errors, timeouts, and 5xx count as breaker failures
	// (spec §4.4) — a 4xx is the upstream correctly rejecting the request.
	if resp.StatusCode >= 500 {
		br.RecordFailure(time.Now(), fmt.Sprintf("upstream responded %d", resp.StatusCode))
	} else {
		br.RecordSuccess()
	}

	if req.Download {
		return &Response{
			StatusCode:         resp.StatusCode,
			Body:               rawBody,
			ContentType:        resp.Header.Get("Content-Type"),
			ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, req.DownloadFilename),
		}, nil
	}

	normalized, gerr := d.normalize(req, resp.StatusCode, rawBody)
	if gerr != nil {
		return nil, gerr
	}

	if isGet && req.CacheKey != "" && d.cache != nil && resp.StatusCode < 300 {
		d.cache.Set(ctx, req.CacheKey, normalized.Body, req.CacheTTL)
	}
	if !isGet && len(req.InvalidateKeys) > 0 && d.cache != nil && resp.StatusCode < 300 {
		d.cache.Invalidate(ctx, req.InvalidateKeys...)
	}

	return normalized, nil
}

func (d *Dispatcher) buildCall(cfg UpstreamConfig, req Request) (domain.UpstreamCall, *domain.GatewayError) {
	u := strings.TrimSuffix(cfg.BaseURL, "/") + req.Path

	query := url.Values{}
	for k, vs := range req.Query {
		for _, v := range vs {
			if v == "" || v == "undefined" || v == "null" {
				continue
			}
			query.Add(k, v)
		}
	}
	query.Set("tenantId", req.TenantID)

	headers := map[string]string{
		"X-Api-Key":    cfg.APIKey,
		"X-Tenant-Id":  req.TenantID,
		"X-Request-Id": req.CorrelationID,
	}
	for k, v := range req.Forwarded {
		if v != "" {
			headers[k] = v
		}
	}

	body := req.Body
	contentType := "application/json"
	if req.Multipart != nil {
		if len(req.Multipart.Data) > MaxUploadBytes {
			return domain.UpstreamCall{}, domain.NewPayloadTooLarge("uploaded file exceeds the maximum allowed size")
		}
		if !allowedExtension(req.Multipart.FileName) {
			return domain.UpstreamCall{}, domain.NewBadRequest("unsupported file extension")
		}
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile(req.Multipart.FieldName, req.Multipart.FileName)
		if err != nil {
			return domain.UpstreamCall{}, domain.NewInternal("failed to build multipart body").WithCause(err)
		}
		if _, err := part.Write(req.Multipart.Data); err != nil {
			return domain.UpstreamCall{}, domain.NewInternal("failed to write multipart body").WithCause(err)
		}
		if err := mw.Close(); err != nil {
			return domain.UpstreamCall{}, domain.NewInternal("failed to finalize multipart body").WithCause(err)
		}
		body = buf.Bytes()
		contentType = mw.FormDataContentType()
	}
	headers["Content-Type"] = contentType

	fullURL := u
	if len(query) > 0 {
		fullURL = u + "?" + query.Encode()
	}

	return domain.UpstreamCall{
		Method:  strings.ToUpper(req.Method),
		URL:     fullURL,
		Headers: headers,
		Body:    body,
		Timeout: DefaultTimeout,
	}, nil
}

func allowedExtension(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	_, ok := AllowedUploadExtensions[ext]
	return ok
}

func (d *Dispatcher) buildHTTPRequest(ctx context.Context, call domain.UpstreamCall) (*http.Request, error) {
	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// translateTransportError maps a transport-level failure to the uniform
// gateway error kinds in spec §4.6's error translation table.
func translateTransportError(err error) *domain.GatewayError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewGatewayTimeout("upstream request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewGatewayTimeout("upstream request timed out")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.NewServiceUnavailable("upstream is unreachable")
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewServiceUnavailable("request canceled")
	}
	return domain.NewServiceUnavailable("upstream is unreachable")
}

type envelopeProbe struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

// normalize implements spec §4.6's response normalization and error
// translation (minus the transport-level branch, handled in Dispatch).
func (d *Dispatcher) normalize(req Request, status int, body []byte) (*Response, *domain.GatewayError) {
	if status == http.StatusNotFound {
		resourceType, id := inferResource(req.Path)
		return nil, domain.NewNotFound(fmt.Sprintf("The %s with identifier %s could not be found.", resourceType, id))
	}

	if status >= 400 {
		var probe envelopeProbe
		if json.Unmarshal(body, &probe) == nil && probe.Error != nil {
			return &Response{StatusCode: status, Body: body, ContentType: "application/json"}, nil
		}
		gerr := synthesizeError(status)
		return nil, gerr
	}

	var probe envelopeProbe
	if json.Unmarshal(body, &probe) == nil && probe.Success != nil {
		return &Response{StatusCode: status, Body: body, ContentType: "application/json"}, nil
	}

	wrapped, err := json.Marshal(struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{Success: true, Data: rawOrNull(body)})
	if err != nil {
		return nil, domain.NewInternal("failed to wrap upstream response").WithCause(err)
	}
	return &Response{StatusCode: status, Body: wrapped, ContentType: "application/json"}, nil
}

func rawOrNull(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(trimmed)
}

func synthesizeError(status int) *domain.GatewayError {
	switch status {
	case http.StatusBadRequest:
		return domain.NewBadRequest("the upstream rejected the request")
	case http.StatusUnauthorized:
		return domain.NewUnauthorized("the upstream rejected the credentials")
	case http.StatusForbidden:
		return domain.NewForbidden("the upstream denied the request")
	case http.StatusConflict:
		return domain.NewConflict("the upstream reported a conflict")
	case http.StatusUnprocessableEntity:
		return domain.NewValidation("the upstream rejected the request body", nil)
	case http.StatusTooManyRequests:
		return domain.NewTooManyRequests("the upstream is rate-limiting this request")
	default:
		if status >= 500 {
			return domain.NewServiceUnavailable("the upstream reported an error")
		}
		return domain.NewInternal("the upstream reported an unexpected error")
	}
}

// inferResource derives (resourceType, id) from an upstream-relative path
// like "/items/3fa85f64-...", per spec §4.6's not-found translation.
func inferResource(path string) (string, string) {
	segments := []string{}
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "resource", ""
	}
	if len(segments) == 1 {
		return strings.TrimSuffix(segments[0], "s"), ""
	}
	id := segments[len(segments)-1]
	resourceType := strings.TrimSuffix(segments[len(segments)-2], "s")
	return resourceType, id
}
