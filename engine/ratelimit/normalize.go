package ratelimit

import (
	"errors"
	"strings"
)

var errInvalidDomain = errors.New("ratelimit: invalid domain")

// normalizeDomain canonicalizes a rate-limit bucket key. Keys in this domain
// are broker consumer/decoder names (e.g. "evt-st-1234#rmonitor"), not URL
// hosts, so normalization is limited to trimming and case-folding rather than
// the host/port parsing a crawler's per-site limiter would need.
func normalizeDomain(value string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	if key == "" {
		return "", errInvalidDomain
	}
	return key, nil
}
