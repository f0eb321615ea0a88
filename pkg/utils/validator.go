package utils

import (
	"net"
	"regexp"
)

// Access Server usernames; no whitespace or shell metacharacters since
// they end up as sacli arguments.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@\-]{0,63}$`)

func IsValidUsername(username string) bool {
	return usernameRegex.MatchString(username)
}

// IsValidIP reports whether ip is a literal IPv4 or IPv6 address.
func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
