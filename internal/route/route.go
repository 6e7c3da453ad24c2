// Package route is the static route-metadata registry: spec §9's
// replacement for decorator-driven metadata. Each route is a plain record —
// resource, action, required roles, public/skipThrottle flags, and the
// upstream it dispatches to — registered once at startup and looked up by
// the pipeline per request.
package route

import (
	"strings"

	"github.com/riftgate/gateway/internal/domain"
)

// Entry pairs an HTTP method and a literal path prefix with its policy.
type Entry struct {
	Method   string
	Pattern  string
	Metadata domain.RouteMetadata
}

// Table is the registered set of routes, matched by method + path prefix.
type Table struct {
	entries []Entry
}

// NewTable builds a Table from entries. Order matters only in that the
// first matching entry wins; register more specific patterns first.
func NewTable(entries []Entry) *Table {
	return &Table{entries: entries}
}

// Match returns the metadata for the first entry whose method matches
// (or "*") and whose pattern is a path-prefix of path.
func (t *Table) Match(method, path string) (domain.RouteMetadata, bool) {
	if domain.IsHealthPath(path) {
		return domain.RouteMetadata{Public: true}, true
	}
	for _, e := range t.entries {
		if e.Method != "*" && !strings.EqualFold(e.Method, method) {
			continue
		}
		if strings.HasPrefix(path, e.Pattern) {
			return e.Metadata, true
		}
	}
	return domain.RouteMetadata{}, false
}

// DefaultTable builds the gateway's fixed route table (spec §6): three
// upstream families, each path-prefix routed, plus the authenticated
// system-check route.
func DefaultTable() *Table {
	return NewTable([]Entry{
		{Method: "*", Pattern: "/api/system-check-key", Metadata: domain.RouteMetadata{Resource: "system", Action: "check"}},
		{Method: "*", Pattern: "/api/system-check", Metadata: domain.RouteMetadata{Public: true}},

		{Method: "GET", Pattern: "/api/service-a/items", Metadata: domain.RouteMetadata{Resource: "items", Action: "read", Upstream: domain.UpstreamServiceA}},
		{Method: "POST", Pattern: "/api/service-a/items", Metadata: domain.RouteMetadata{Resource: "items", Action: "create", Upstream: domain.UpstreamServiceA}},
		{Method: "PUT", Pattern: "/api/service-a/items", Metadata: domain.RouteMetadata{Resource: "items", Action: "update", Upstream: domain.UpstreamServiceA}},
		{Method: "PATCH", Pattern: "/api/service-a/items", Metadata: domain.RouteMetadata{Resource: "items", Action: "update", Upstream: domain.UpstreamServiceA}},
		{Method: "DELETE", Pattern: "/api/service-a/items", Metadata: domain.RouteMetadata{Resource: "items", Action: "delete", Upstream: domain.UpstreamServiceA}},
		{Method: "GET", Pattern: "/api/service-a/categories", Metadata: domain.RouteMetadata{Resource: "categories", Action: "read", Upstream: domain.UpstreamServiceA}},
		{Method: "GET", Pattern: "/api/service-a/statistics", Metadata: domain.RouteMetadata{Resource: "statistics", Action: "read", Upstream: domain.UpstreamServiceA}},

		{Method: "GET", Pattern: "/api/service-b/reports", Metadata: domain.RouteMetadata{Resource: "reports", Action: "read", Upstream: domain.UpstreamServiceB}},
		{Method: "POST", Pattern: "/api/service-b/reports", Metadata: domain.RouteMetadata{Resource: "reports", Action: "create", Upstream: domain.UpstreamServiceB}},
		{Method: "GET", Pattern: "/api/service-b/notifications", Metadata: domain.RouteMetadata{Resource: "notifications", Action: "read", Upstream: domain.UpstreamServiceB}},
		{Method: "POST", Pattern: "/api/service-b/notifications", Metadata: domain.RouteMetadata{Resource: "notifications", Action: "create", Upstream: domain.UpstreamServiceB}},

		{Method: "GET", Pattern: "/api/service-c/files", Metadata: domain.RouteMetadata{Resource: "files", Action: "read", Upstream: domain.UpstreamServiceC}},
		{Method: "POST", Pattern: "/api/service-c/files", Metadata: domain.RouteMetadata{Resource: "files", Action: "create", Upstream: domain.UpstreamServiceC}},
		{Method: "DELETE", Pattern: "/api/service-c/files", Metadata: domain.RouteMetadata{Resource: "files", Action: "delete", Upstream: domain.UpstreamServiceC}},
		{Method: "GET", Pattern: "/api/service-c/folders", Metadata: domain.RouteMetadata{Resource: "folders", Action: "read", Upstream: domain.UpstreamServiceC}},
		{Method: "POST", Pattern: "/api/service-c/folders", Metadata: domain.RouteMetadata{Resource: "folders", Action: "create", Upstream: domain.UpstreamServiceC}},
	})
}
