package timespec

import (
	"testing"
	"time"
)

func TestParseTTL(t *testing.T) {
	tests := []struct {
		spec    string
		want    time.Duration
		wantErr bool
	}{
		{"90s", 90 * time.Second, false},
		{"30m", 30 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"168h", 168 * time.Hour, false},
		{"7d", 168 * time.Hour, false},
		{"0.5d", 12 * time.Hour, false},
		{"", 0, true},
		{"7", 0, true},
		{"-1h", 0, true},
		{"0s", 0, true},
		{"fortnight", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseTTL(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseTTL(%q) expected error, got %v", tt.spec, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTTL(%q) unexpected error: %v", tt.spec, err)
			}
			if got != tt.want {
				t.Errorf("ParseTTL(%q) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestParseTTLOrDefault(t *testing.T) {
	got, err := ParseTTLOrDefault("", 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 24*time.Hour {
		t.Errorf("empty spec should return default, got %v", got)
	}

	got, err = ParseTTLOrDefault("1h", 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != time.Hour {
		t.Errorf("explicit spec should win, got %v", got)
	}
}
