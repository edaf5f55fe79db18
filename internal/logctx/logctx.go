// Package logctx carries per-operation log attributes through a context and
// exposes an slog.Handler that appends them to every record.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and adds a "session" group describing
// the session operation found in the record's context, if any.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if op, ok := ctx.Value(operationKey{}).(*Operation); ok {
		r.AddAttrs(slog.Group("session",
			slog.String("op", op.Name),
			slog.String("op_id", op.ID),
		))
	}
	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type operationKey struct{}

// Operation identifies one run of a session operation.
type Operation struct {
	ID   string
	Name string
}

func WithOperation(ctx context.Context, op *Operation) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

// OperationFrom returns the operation stored in ctx, if any.
func OperationFrom(ctx context.Context) (*Operation, bool) {
	op, ok := ctx.Value(operationKey{}).(*Operation)
	return op, ok
}
