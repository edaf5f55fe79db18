package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandler_AddsOperationGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := WithOperation(context.Background(), &Operation{ID: "op-1", Name: "sign_in"})
	log.With(slog.String("component", "test")).InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	sess, ok := rec["session"].(map[string]any)
	if !ok {
		t.Fatalf("missing session group: %s", buf.String())
	}
	if sess["op"] != "sign_in" || sess["op_id"] != "op-1" {
		t.Fatalf("unexpected session group: %v", sess)
	}
	if rec["component"] != "test" {
		t.Fatalf("WithAttrs lost through wrapper: %s", buf.String())
	}
}

func TestHandler_NoOperation(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})
	log.InfoContext(context.Background(), "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if _, ok := rec["session"]; ok {
		t.Fatalf("unexpected session group: %s", buf.String())
	}
}

func TestOperationFrom(t *testing.T) {
	if _, ok := OperationFrom(context.Background()); ok {
		t.Fatalf("empty context reported an operation")
	}
	op := &Operation{ID: "x", Name: "restore"}
	got, ok := OperationFrom(WithOperation(context.Background(), op))
	if !ok || got != op {
		t.Fatalf("round trip failed: %v %v", got, ok)
	}
}
