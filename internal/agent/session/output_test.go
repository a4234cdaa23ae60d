package session

import "testing"

func TestStripANSI(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"\x1b[31mred\x1b[0m text", "red text"},
		{"\x1b[2J\x1b[Hcleared", "cleared"},
		{"\x1b[1;32mbold green\x1b[0m", "bold green"},
	}
	for _, tc := range cases {
		if got := stripANSI(tc.in); got != tc.want {
			t.Errorf("stripANSI(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBenignStderr(t *testing.T) {
	benign := []string{
		"(node:1234) DeprecationWarning: punycode is deprecated",
		"Debugger attached.",
		"npm warn old lockfile",
		"ExperimentalWarning: fetch is experimental",
	}
	for _, line := range benign {
		if !benignStderr(line) {
			t.Errorf("benignStderr(%q) = false, want true", line)
		}
	}

	noisy := []string{
		"Error: spawn gemini ENOENT",
		"panic: runtime error",
		"permission denied",
	}
	for _, line := range noisy {
		if benignStderr(line) {
			t.Errorf("benignStderr(%q) = true, want false", line)
		}
	}
}
