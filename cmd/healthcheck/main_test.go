package main

import "testing"

func TestProbeURL(t *testing.T) {
	tests := []struct {
		addr  string
		ready bool
		want  string
	}{
		{"", false, "http://localhost:8080/healthz"},
		{":8080", false, "http://localhost:8080/healthz"},
		{"0.0.0.0:9000", true, "http://localhost:9000/readyz"},
		{"localhost:", false, "http://localhost:8080/healthz"},
	}
	for _, tt := range tests {
		if got := probeURL(tt.addr, tt.ready); got != tt.want {
			t.Errorf("probeURL(%q, %v) = %q, want %q", tt.addr, tt.ready, got, tt.want)
		}
	}
}
