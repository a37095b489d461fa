package main

import (
	"testing"
	"time"
)

func TestFormatStamp(t *testing.T) {
	tests := []struct {
		name  string
		input time.Time
		want  string
	}{
		{
			name:  "zero time",
			input: time.Time{},
			want:  "(never)",
		},
		{
			name:  "recorded time",
			input: time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC),
			want:  "2024-06-01T10:30:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatStamp(tt.input); got != tt.want {
				t.Errorf("formatStamp() = %v, want %v", got, tt.want)
			}
		})
	}
}
