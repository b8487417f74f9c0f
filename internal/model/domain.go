package model

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidDomainName is returned when a domain name fails validation.
var ErrInvalidDomainName = errors.New("invalid domain name")

// domainNameRe accepts dotted lowercase labels of 1-63 chars, at least two
// labels, no leading/trailing hyphens.
var domainNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// NormalizeDomainName lowercases and trims a user-supplied domain name and
// validates the result.
func NormalizeDomainName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, ".")
	if len(n) == 0 || len(n) > 253 || !domainNameRe.MatchString(n) {
		return "", ErrInvalidDomainName
	}
	return n, nil
}

// Domain is a registered domain owned by a single user. Domains are
// soft-deactivated rather than deleted so that run history stays resolvable.
type Domain struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
