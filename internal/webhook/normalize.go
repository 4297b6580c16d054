package webhook

import "strings"

const (
	argentinaMobilePrefix = "549"
	argentinaPrefix       = "54"
	argentinaMobileLen    = 13
)

// NormalizeAddress rewrites an inbound WhatsApp address to the canonical form
// used for storage keys and outbound sends. Argentine mobile numbers arrive as
// 549XXXXXXXXXX but the Cloud API only accepts 54XXXXXXXXXX as a recipient, so
// the redundant 9 is dropped. The rewrite is idempotent.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) == argentinaMobileLen && strings.HasPrefix(addr, argentinaMobilePrefix) {
		return argentinaPrefix + addr[len(argentinaMobilePrefix):]
	}
	return addr
}
