package util

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRenderTemplate(t *testing.T) {
	cases := []struct {
		name string
		body string
		vars map[string]string
		want string
	}{
		{"single", "Hello {{name}}", map[string]string{"name": "Ana"}, "Hello Ana"},
		{"missing key", "Hi {{x}}", map[string]string{}, "Hi "},
		{"nil vars", "Hi {{x}}!", nil, "Hi !"},
		{"repeated", "{{a}}-{{a}}-{{b}}", map[string]string{"a": "1", "b": "2"}, "1-1-2"},
		{"spaces in token", "Hey {{ name }}", map[string]string{"name": "Bo"}, "Hey Bo"},
		{"single braces untouched", "{name}", map[string]string{"name": "x"}, "{name}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RenderTemplate(tc.body, tc.vars); got != tc.want {
				t.Fatalf("RenderTemplate(%q) = %q, want %q", tc.body, got, tc.want)
			}
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		" +1 555 123-4567 ": "+15551234567",
		"(555) 000 1111":    "5550001111",
		"62+811":            "62811",
	}
	for in, want := range cases {
		if got := NormalizePhone(in); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChunk(t *testing.T) {
	items := make([]int, 600)
	chunks := Chunk(items, 256)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 256 || len(chunks[1]) != 256 || len(chunks[2]) != 88 {
		t.Fatalf("unexpected chunk sizes %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if Chunk([]int{}, 256) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestNewIDPrefixed(t *testing.T) {
	a := NewID(PrefixSender)
	b := NewID(PrefixSender)
	if !strings.HasPrefix(a, "snd_") {
		t.Fatalf("expected snd_ prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected unique ids")
	}
}

func TestUniformStaysInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := Uniform(100*time.Millisecond, 200*time.Millisecond)
		if d < 100*time.Millisecond || d > 200*time.Millisecond {
			t.Fatalf("out of range: %s", d)
		}
	}
	if got := Uniform(time.Second, time.Second); got != time.Second {
		t.Fatalf("degenerate range should return lo, got %s", got)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); err == nil {
		t.Fatalf("expected context error")
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
