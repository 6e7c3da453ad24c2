// Package authz implements AuthZ (spec §4.2): a static (resource, action) →
// roles-allowed policy table consulted after AuthN has resolved a Principal.
//
// Grounded on the teacher's internal/tenant/tenant.go role-membership checks,
// generalized from a single tenant-admin boolean to the spec's resource/
// action policy table.
package authz

import (
	"fmt"

	"github.com/riftgate/gateway/internal/domain"
)

// roleSet is the set of roles allowed to perform one (resource, action) pair.
type roleSet map[string]struct{}

func roles(rs ...string) roleSet {
	s := make(roleSet, len(rs))
	for _, r := range rs {
		s[r] = struct{}{}
	}
	return s
}

// PolicyTable maps "resource:action" to the roles allowed to perform it.
type PolicyTable map[string]roleSet

func policyKey(resource, action string) string {
	return resource + ":" + action
}

// Allow registers that any of roles may perform action on resource.
func (t PolicyTable) Allow(resource, action string, allowedRoles ...string) {
	t[policyKey(resource, action)] = roles(allowedRoles...)
}

// Authorizer evaluates the AuthZ policy in spec §4.2.
type Authorizer struct {
	table PolicyTable
}

// New builds an Authorizer over the given policy table.
func New(table PolicyTable) *Authorizer {
	if table == nil {
		table = PolicyTable{}
	}
	return &Authorizer{table: table}
}

// Authorize decides whether principal may traverse route, per spec §4.2's
// ordered policy:
//  1. route-required-roles match ⇒ allow
//  2. missing resource or action ⇒ deny
//  3. "admin" role ⇒ allow unconditionally
//  4. policy table intersection ⇒ allow iff non-empty
func (a *Authorizer) Authorize(principal *domain.Principal, route domain.RouteMetadata) *domain.GatewayError {
	if len(route.RequiredRoles) > 0 && principal.HasRole(route.RequiredRoles...) {
		return nil
	}

	if route.Resource == "" || route.Action == "" {
		return forbidden(route)
	}

	if principal.HasRole("admin") {
		return nil
	}

	allowed, ok := a.table[policyKey(route.Resource, route.Action)]
	if !ok {
		return forbidden(route)
	}
	if principal == nil {
		return forbidden(route)
	}
	for role := range principal.Roles {
		if _, ok := allowed[role]; ok {
			return nil
		}
	}
	return forbidden(route)
}

func forbidden(route domain.RouteMetadata) *domain.GatewayError {
	resource := route.Resource
	if resource == "" {
		resource = "resource"
	}
	action := route.Action
	if action == "" {
		action = "access"
	}
	return domain.NewForbidden(fmt.Sprintf("You don't have permission to %s this %s", action, resource))
}
