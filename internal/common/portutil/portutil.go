// Package portutil provides TCP port probing and placeholder expansion for
// launch commands.
package portutil

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Matches $PORT, ${PORT}, $UNITY_PORT, ${BRIDGE_PORT}, etc.
var placeholderRegex = regexp.MustCompile(`\$\{?([A-Z_]*PORT[A-Z0-9_]*)\}?`)

// AllocatePort allocates an available port using OS assignment.
func AllocatePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// IsListening reports whether something accepts TCP connections on
// host:port. It never binds the port; it only attempts a connect with the
// given timeout.
func IsListening(host string, port int, timeout time.Duration) bool {
	if host == "" {
		host = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// CheckFree verifies that the port can be bound on loopback. It binds and
// immediately releases the port, so there is a window between check and use.
func CheckFree(port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("port %d is not free: %w", port, err)
	}
	return listener.Close()
}

// ExpandPlaceholders replaces port placeholders in a command string with the
// given values. Both $NAME and ${NAME} forms are handled; placeholders with
// no value are left untouched.
//
//	ExpandPlaceholders("bridge --port $UNITY_PORT", map[string]int{"UNITY_PORT": 8765})
//	→ "bridge --port 8765"
func ExpandPlaceholders(command string, values map[string]int) string {
	expanded := command
	for name, port := range values {
		portStr := strconv.Itoa(port)
		expanded = strings.ReplaceAll(expanded, "${"+name+"}", portStr)
		expanded = strings.ReplaceAll(expanded, "$"+name, portStr)
	}
	return expanded
}

// FindPlaceholders extracts the unique placeholder names referenced by a
// command string, sorted, without the $ or ${} wrapping.
func FindPlaceholders(command string) []string {
	matches := placeholderRegex.FindAllStringSubmatch(command, -1)
	if len(matches) == 0 {
		return []string{}
	}

	uniqueMap := make(map[string]bool)
	for _, match := range matches {
		if len(match) > 1 {
			uniqueMap[match[1]] = true
		}
	}

	result := make([]string, 0, len(uniqueMap))
	for placeholder := range uniqueMap {
		result = append(result, placeholder)
	}
	sort.Strings(result)
	return result
}
