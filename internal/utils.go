package internal

import (
	"errors"
	"net"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// CheckIfname validates a network interface name.
func CheckIfname(name string) error {
	if name == "" {
		return errors.New("interface name cannot be empty")
	}

	if len(name) >= 16 {
		log.Warnf("interface name '%s' is longer than %d characters", name, 16-1)
	}

	var invalidChar bool
	var hasWhitespace bool

	for _, r := range name {
		if r > 127 {
			invalidChar = true
			break
		}
		if r == '/' || r == ' ' || strings.ContainsRune("\t\n\v\f\r", r) {
			hasWhitespace = true
			break
		}
	}

	if invalidChar {
		log.Warn("interface name contains non-ASCII character")
	}

	if hasWhitespace {
		return errors.New("interface name contains invalid character: '/' or whitespace")
	}

	return nil
}

// CheckHostPort validates an address of the form host:port with a port
// in 0-65535. An empty host stands for all interfaces.
func CheckHostPort(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return errors.New("invalid port")
	}
	return nil
}

// EphemeralBindAddress returns the wildcard address with port 0 in the
// family of remote, falling back to IPv4 for host names.
func EphemeralBindAddress(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			return "[::]:0"
		}
	}
	return "0.0.0.0:0"
}
