package sysutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func keepGlobalLogger(t *testing.T) {
	t.Helper()
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestSetupLogger_JSONCarriesServiceAndHost(t *testing.T) {
	keepGlobalLogger(t)

	var buf bytes.Buffer
	SetupLogger("debug", false, &buf)
	log.Debug().Str("customer_id", "C-42").Msg("cache miss")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q (%v)", buf.String(), err)
	}
	if line["service"] != ServiceName || line["customer_id"] != "C-42" || line["message"] != "cache miss" {
		t.Fatalf("unexpected fields: %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Fatalf("missing timestamp: %v", line)
	}
	if _, ok := line["host"]; !ok {
		t.Fatalf("missing host: %v", line)
	}
}

func TestSetupLogger_PrettyRespectsLevel(t *testing.T) {
	keepGlobalLogger(t)

	var buf bytes.Buffer
	SetupLogger("warn", true, &buf)
	log.Info().Msg("queue synced")
	log.Warn().Msg("crm slow")

	out := buf.String()
	if strings.Contains(out, "queue synced") || !strings.Contains(out, "crm slow") {
		t.Fatalf("level filter wrong: %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("pretty output should not be JSON: %q", out)
	}
}

func TestSetLogLevel(t *testing.T) {
	keepGlobalLogger(t)

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"  DeBuG ", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"disabled", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		got := SetLogLevel(tc.in)
		if got != tc.want || zerolog.GlobalLevel() != tc.want {
			t.Fatalf("SetLogLevel(%q) = %v (global %v); want %v", tc.in, got, zerolog.GlobalLevel(), tc.want)
		}
	}
}

func TestIsTruthy(t *testing.T) {
	cases := map[string]bool{
		"1": true, "TRUE": true, " yes ": true, "Y": true, "On": true,
		"": false, "0": false, "off": false, "n": false, "enabled": false,
	}
	for in, want := range cases {
		if got := IsTruthy(in); got != want {
			t.Fatalf("IsTruthy(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", "\t"}, ""},
		{[]string{"", "  lobby-1 ", "pool"}, "  lobby-1 "},
		{[]string{"lobby-1", "default-kiosk"}, "lobby-1"},
	}
	for _, tc := range cases {
		if got := FirstNonEmpty(tc.in...); got != tc.want {
			t.Fatalf("FirstNonEmpty(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}
