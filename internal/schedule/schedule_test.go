package schedule

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestNormalizeBareCron(t *testing.T) {
	got, err := Normalize("*/5 * * * *")
	if err != nil {
		t.Fatalf("normalize error: %v", err)
	}
	s, err := Parse(got)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if s.Kind != "cron" || s.CronExpr != "*/5 * * * *" {
		t.Errorf("unexpected schedule: %+v", s)
	}
}

func TestNormalizeJSONPassthrough(t *testing.T) {
	raw := `{"kind":"interval","interval_ms":60000}`
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize error: %v", err)
	}
	if got != raw {
		t.Errorf("expected passthrough, got %s", got)
	}
}

func TestNormalizeInvalid(t *testing.T) {
	tests := []string{
		"not a cron",
		`{"kind":"cron","cron_expr":"bogus"}`,
		`{"kind":"interval","interval_ms":0}`,
		`{"kind":"once","at_ms":-1}`,
		`{"kind":"weekly"}`,
	}
	for _, raw := range tests {
		if _, err := Normalize(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestNextRunInterval(t *testing.T) {
	next := NextRun(`{"kind":"interval","interval_ms":60000}`)
	if next == nil {
		t.Fatal("expected a next run")
	}
	d := time.Until(*next)
	if d < 55*time.Second || d > 65*time.Second {
		t.Errorf("next run not ~1m away: %s", d)
	}
}

func TestNextRunCron(t *testing.T) {
	next := NextRun(`{"kind":"cron","cron_expr":"* * * * *"}`)
	if next == nil {
		t.Fatal("expected a next run")
	}
	if !next.After(time.Now().Add(-time.Second)) {
		t.Errorf("next run in the past: %s", next)
	}
}

func TestNextRunOnce(t *testing.T) {
	future := strconv.FormatInt(time.Now().Add(time.Hour).UnixMilli(), 10)
	next := NextRun(`{"kind":"once","at_ms":` + future + `}`)
	if next == nil {
		t.Fatal("expected a next run for future one-off")
	}

	past := strconv.FormatInt(time.Now().Add(-time.Hour).UnixMilli(), 10)
	if NextRun(`{"kind":"once","at_ms":`+past+`}`) != nil {
		t.Error("past one-off must have no next run")
	}
}

func TestNextRunGarbage(t *testing.T) {
	if NextRun("not json") != nil {
		t.Error("expected nil for unparseable schedule")
	}
	if NextRun(`{"kind":"mystery"}`) != nil {
		t.Error("expected nil for unknown kind")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(`{"kind":"interval","interval_ms":300000}`); !strings.Contains(got, "5m") {
		t.Errorf("unexpected interval description: %s", got)
	}
	if got := Describe(`{"kind":"cron","cron_expr":"0 9 * * 1"}`); !strings.Contains(got, "0 9 * * 1") {
		t.Errorf("unexpected cron description: %s", got)
	}
}
