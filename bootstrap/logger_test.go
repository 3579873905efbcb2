package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/goliatone/go-claimbot/core"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestSlogLogger_CarriesComponentAndCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(&buf, "info")

	ctx := core.ContextWithCorrelationID(context.Background(), "corr-42")
	logger.GetLogger("webhook").WithContext(ctx).Info("message accepted", "sender", "whatsapp:+1")
	logger.Debug("hidden")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected debug to be filtered, got %d entries", len(entries))
	}
	entry := entries[0]
	if entry["msg"] != "message accepted" || entry["component"] != "webhook" || entry["correlation_id"] != "corr-42" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["sender"] != "whatsapp:+1" {
		t.Fatalf("expected args to be kept, got %v", entry)
	}
}

func TestSlogLogger_FieldsAndFatal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(&buf, "debug")

	logger.WithFields(map[string]any{"state": "AWAITING_OTP"}).Debug("transition")
	logger.Fatal("cannot start")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0]["state"] != "AWAITING_OTP" || entries[0]["level"] != "DEBUG" {
		t.Fatalf("unexpected debug entry %v", entries[0])
	}
	if entries[1]["level"] != "ERROR" || entries[1]["fatal"] != true {
		t.Fatalf("unexpected fatal entry %v", entries[1])
	}
}

func TestSlogLogger_ObserverWritesEachFieldOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(&buf, "info")

	core.Observer{Logger: logger}.Info(context.Background(), "relay done", map[string]any{"published": 2})

	line := strings.TrimSpace(buf.String())
	if got := strings.Count(line, `"published"`); got != 1 {
		t.Fatalf("expected published once, got %d in %s", got, line)
	}
}
