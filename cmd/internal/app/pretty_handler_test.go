package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandlerPlainOutput(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, &slog.HandlerOptions{Level: slog.LevelInfo}, false)

	r := slog.NewRecord(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), slog.LevelInfo, "session.start", 0)
	r.AddAttrs(slog.String("session_id", "01ABC"), slog.Int("count", 3))

	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	out := sb.String()
	for _, want := range []string{"lvl=[INFO]", "msg=session.start", "session_id=01ABC", "count=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatal("missing trailing newline")
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatal("plain mode must not emit ANSI codes")
	}
}

func TestPrettyHandlerQuotesValues(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	h := newPrettyHandler(&sb, nil, false)

	r := slog.NewRecord(time.Now(), slog.LevelWarn, "session.read.fail", 0)
	r.AddAttrs(slog.String("err", "broken pipe"))

	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(sb.String(), `err="broken pipe"`) {
		t.Fatalf("output %q: value with spaces must be quoted", sb.String())
	}
}

func TestPrettyHandlerLevelGate(t *testing.T) {
	t.Parallel()

	h := newPrettyHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info must be gated at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error must pass the warn gate")
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "two words", want: `"two words"`},
		{in: "key=value", want: `"key=value"`},
	}

	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestColorizeStatusCodePlain(t *testing.T) {
	t.Parallel()

	if got := colorizeStatusCode(200, false); got != "200" {
		t.Fatalf("got=%q", got)
	}
	if got := colorizeStatusCode(503, true); !strings.Contains(got, "503") {
		t.Fatalf("got=%q", got)
	}
}
