package util

import (
	"regexp"
	"strings"
)

var ipv4Pattern = regexp.MustCompile(
	`\b((25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\.){3}(25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\b`,
)

// ShortHostname truncates a fully qualified domain name to its hostname.
// IPv4 literals are returned unchanged.
func ShortHostname(fqdn string) string {
	if ipv4Pattern.MatchString(fqdn) {
		return fqdn
	}
	if i := strings.IndexByte(fqdn, '.'); i >= 0 {
		return fqdn[:i]
	}
	return fqdn
}
