package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRun_JSONShape(t *testing.T) {
	r := Run{
		ID:         RunID("R1"),
		Probe:      "db",
		State:      "timed_out",
		Attempts:   3,
		Error:      "probe \"db\" timed out",
		StartedAt:  time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 8, 18, 12, 0, 30, 0, time.UTC),
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"probe":"db"`, `"state":"timed_out"`, `"ready":false`, `"attempts":3`} {
		if !strings.Contains(s, want) {
			t.Fatalf("json %s missing %s", s, want)
		}
	}
	if strings.Contains(s, `"target"`) {
		t.Fatalf("empty target should be omitted: %s", s)
	}
	if r.Duration() != 30*time.Second {
		t.Fatalf("duration wrong: %s", r.Duration())
	}
}
