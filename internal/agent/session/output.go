package session

import (
	"regexp"
	"strings"
)

// ansiEscapeRegex matches ANSI escape sequences
var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// stripANSI removes ANSI escape codes from a string
func stripANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// benignStderrFragments are CLI startup noise worth keeping out of the UI.
var benignStderrFragments = []string{
	"DeprecationWarning",
	"ExperimentalWarning",
	"Debugger attached",
	"Waiting for the debugger",
	"npm warn",
	"npm notice",
	"(node:",
}

func benignStderr(line string) bool {
	for _, fragment := range benignStderrFragments {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}
