package main

import (
	"strings"
	"testing"
)

func TestStatus_Counts(t *testing.T) {
	cfg := writeConfig(t, "")
	for _, phone := range []string{"+1000", "+2000"} {
		if _, err := runCLI(t, "session", "add", "-c", cfg, "--phone", phone); err != nil {
			t.Fatalf("session add: %v", err)
		}
	}

	out, err := runCLI(t, "status", "-c", cfg)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	got := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if f := strings.Fields(line); len(f) == 2 {
			got[f[0]] = f[1]
		}
	}
	want := map[string]string{"waiting": "2", "connected": "0", "disconnected": "0", "total": "2"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q in output:\n%s", k, got[k], v, out)
		}
	}
}
