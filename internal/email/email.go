// Package email provides address helpers shared by the transport and the API.
package email

import (
	"net/mail"
	"regexp"
	"strings"
)

// addressPattern is the loose syntax check applied before handing an address to the relay
var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValid reports whether addr looks like a deliverable bare address
func IsValid(addr string) bool {
	return addressPattern.MatchString(addr)
}

// ExtractDomain returns the lowercased domain of an address, or "" if there is none
func ExtractDomain(addr string) string {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// ExtractDomainOrDefault is ExtractDomain with a fallback for addresses without a domain
func ExtractDomainOrDefault(addr, defaultDomain string) string {
	if domain := ExtractDomain(addr); domain != "" {
		return domain
	}
	return defaultDomain
}
