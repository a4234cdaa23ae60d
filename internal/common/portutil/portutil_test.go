package portutil

import (
	"net"
	"reflect"
	"testing"
	"time"
)

func TestFindPlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		expected []string
	}{
		{name: "dollar form", command: "bridge --port $UNITY_PORT", expected: []string{"UNITY_PORT"}},
		{name: "braced form", command: "bridge --port ${BLENDER_PORT}", expected: []string{"BLENDER_PORT"}},
		{name: "repeated name collapses", command: "serve $PORT --callback $PORT", expected: []string{"PORT"}},
		{name: "multiple names sorted", command: "serve --web $WEB_PORT --api $API_PORT", expected: []string{"API_PORT", "WEB_PORT"}},
		{name: "no placeholders", command: "npm run dev", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindPlaceholders(tt.command)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("FindPlaceholders(%q) = %v, want %v", tt.command, got, tt.expected)
			}
		})
	}
}

func TestExpandPlaceholders(t *testing.T) {
	values := map[string]int{"UNITY_PORT": 8765, "MCP_PORT": 8767}

	got := ExpandPlaceholders("bridge --port $UNITY_PORT --mcp ${MCP_PORT} --keep $OTHER_PORT", values)
	want := "bridge --port 8765 --mcp 8767 --keep $OTHER_PORT"
	if got != want {
		t.Errorf("ExpandPlaceholders() = %q, want %q", got, want)
	}
}

func TestIsListeningAndCheckFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	if !IsListening("127.0.0.1", port, time.Second) {
		t.Errorf("IsListening() = false for a bound port")
	}
	if err := CheckFree(port); err == nil {
		t.Errorf("CheckFree() accepted a bound port")
	}

	free, err := AllocatePort()
	if err != nil {
		t.Fatalf("AllocatePort() failed: %v", err)
	}
	if IsListening("127.0.0.1", free, 100*time.Millisecond) {
		t.Errorf("IsListening() = true for an unbound port")
	}
	if err := CheckFree(free); err != nil {
		t.Errorf("CheckFree(%d) = %v, want nil", free, err)
	}
}
