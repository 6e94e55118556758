package qrtoken

import (
	"bytes"
	"strings"
	"testing"
)

func TestValid(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"PROMO1", true},
		{"abcd", true},
		{"a-b_c-9", true},
		{strings.Repeat("x", 32), true},
		{"abc", false},
		{strings.Repeat("x", 33), false},
		{"PRO MO", false},
		{"promo!", false},
		{"", false},
		{"café1", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.code); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestGenerateProducesValidTokens(t *testing.T) {
	g := NewGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := g.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != GeneratedLen {
			t.Fatalf("len = %d, want %d", len(code), GeneratedLen)
		}
		if !Valid(code) {
			t.Fatalf("generated %q fails validation", code)
		}
		if seen[code] {
			t.Fatalf("duplicate token %q", code)
		}
		seen[code] = true
	}
}

func TestGenerateIsDeterministicForSource(t *testing.T) {
	src := bytes.Repeat([]byte{0}, GeneratedLen*2)
	g := NewGeneratorFrom(bytes.NewReader(src))
	a, err := g.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := g.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a != "AAAAAAAAAA" || a != b {
		t.Errorf("got %q and %q, want AAAAAAAAAA twice", a, b)
	}
	if _, err := g.Generate(); err == nil {
		t.Error("expected error on exhausted source")
	}
}
