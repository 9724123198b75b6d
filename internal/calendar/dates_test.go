package calendar

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) // Thursday

	tests := []struct {
		in      string
		wantDay time.Time
		wantErr bool
	}{
		{in: "2026-10-20", wantDay: time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)},
		{in: "2026-10-20T15:00:00Z", wantDay: time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)},
		{in: "tomorrow", wantDay: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)},
		{in: "", wantErr: true},
		{in: "qwerty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, now)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDate(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%q) failed: %v", tt.in, err)
			}
			day := time.Date(got.Year(), got.Month(), got.Day(), 0, 0, 0, 0, time.UTC)
			if !day.Equal(tt.wantDay) {
				t.Errorf("ParseDate(%q) = %v, want day %v", tt.in, got, tt.wantDay)
			}
		})
	}
}
