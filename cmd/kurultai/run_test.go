package main

import (
	"testing"
	"time"
)

func TestSweepInterval(t *testing.T) {
	tests := []struct {
		name     string
		window   time.Duration
		expected time.Duration
	}{
		{
			name:     "default window polls at a quarter",
			window:   45 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "short window clamps to the floor",
			window:   200 * time.Millisecond,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "mid window divides evenly",
			window:   8 * time.Second,
			expected: 2 * time.Second,
		},
		{
			name:     "long window clamps to the ceiling",
			window:   2 * time.Minute,
			expected: 5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sweepInterval(tt.window); got != tt.expected {
				t.Errorf("sweepInterval(%s) = %s, want %s", tt.window, got, tt.expected)
			}
		})
	}
}
