package logfields

import (
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"RunID", KeyRunID, "r-1", RunID("r-1")},
		{"Job", KeyJob, "stable", Job("stable")},
		{"Channel", KeyChannel, "nightly", Channel("nightly")},
		{"Phase", KeyPhase, "setup", Phase("setup")},
		{"Step", KeyStep, "cargo build", Step("cargo build")},
		{"Command", KeyCommand, "sh -c", Command("sh -c")},
		{"Status", KeyStatus, "failed", Status("failed")},
		{"CacheKey", KeyCacheKey, "registry-v1", CacheKey("registry-v1")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"URL", KeyURL, "http://example", URL("http://example")},
		{"Database", KeyDatabase, "registry_stable", Database("registry_stable")},
		{"ScheduleName", KeySchedule, "nightly", ScheduleName("nightly")},
		{"Worker", KeyWorker, "w1", Worker("w1")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric helpers.
func TestNumericHelpers(t *testing.T) {
	if v := ExitCode(101); v.Key != KeyExitCode {
		t.Fatalf("ExitCode key mismatch: %s", v.Key)
	}
	if v := DurationMS(12.5); v.Key != KeyDurationMS {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
