package ratelimit

import "strings"

// DeriveIdentity builds the rate-limit identity string per spec §4.3:
// prefer the API key (scoped by IP/user/anonymous), else the principal id,
// else the remote IP, else "anonymous".
func DeriveIdentity(apiKey, principalID, remoteIP string) string {
	var raw string
	switch {
	case apiKey != "":
		scope := remoteIP
		if principalID != "" {
			scope = principalID
		}
		if scope == "" {
			scope = "anonymous"
		}
		raw = "api-key:" + apiKey + ":" + scope
	case principalID != "":
		raw = principalID
	case remoteIP != "":
		raw = remoteIP
	default:
		raw = "anonymous"
	}
	return normalize(raw)
}

// normalize collapses runs of ':', strips leading/trailing ':', and drops
// the "ffff" token that IPv4-mapped IPv6 addresses (::ffff:1.2.3.4) insert.
func normalize(s string) string {
	parts := strings.Split(s, ":")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "ffff" {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return "anonymous"
	}
	return strings.Join(kept, ":")
}
