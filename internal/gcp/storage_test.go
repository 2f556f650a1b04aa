package gcp

import (
	"testing"
	"time"
)

func TestParseObjectURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		object  string
		wantErr bool
	}{
		{"gs://uploads/run-1/10k.pdf", "uploads", "run-1/10k.pdf", false},
		{"gs://uploads/", "", "", true},
		{"gs://uploads", "", "", true},
		{"/tmp/10k.pdf", "", "", true},
	}
	for _, tt := range tests {
		bucket, object, err := ParseObjectURI(tt.uri)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseObjectURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || object != tt.object {
			t.Errorf("ParseObjectURI(%q) = (%q, %q), want (%q, %q)", tt.uri, bucket, object, tt.bucket, tt.object)
		}
	}
	if got := ObjectURI("b", "runs/x/report.html"); got != "gs://b/runs/x/report.html" {
		t.Errorf("ObjectURI = %q", got)
	}
}

func TestGetEnvParsers(t *testing.T) {
	t.Setenv("TEST_WORKERS", " 7 ")
	t.Setenv("TEST_TIMEOUT", "90s")
	t.Setenv("TEST_BAD", "seven")

	if n, err := GetEnvInt("TEST_WORKERS", 3); err != nil || n != 7 {
		t.Errorf("GetEnvInt = (%d, %v), want 7", n, err)
	}
	if n, err := GetEnvInt("TEST_UNSET_WORKERS", 3); err != nil || n != 3 {
		t.Errorf("GetEnvInt fallback = (%d, %v), want 3", n, err)
	}
	if _, err := GetEnvInt("TEST_BAD", 3); err == nil {
		t.Error("GetEnvInt accepted a non-integer")
	}
	if d, err := GetEnvDuration("TEST_TIMEOUT", time.Minute); err != nil || d != 90*time.Second {
		t.Errorf("GetEnvDuration = (%v, %v), want 90s", d, err)
	}
	if _, err := GetEnvDuration("TEST_BAD", time.Minute); err == nil {
		t.Error("GetEnvDuration accepted a bad duration")
	}
	if got := GetEnv("TEST_UNSET_KEY", "fallback"); got != "fallback" {
		t.Errorf("GetEnv = %q", got)
	}
}
