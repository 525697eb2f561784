// Package audit emite eventos de auditoría estructurados.
// Best-effort: nunca bloquea ni falla la operación que lo llama.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/coverwise/authcore/internal/observability/logger"
)

// Log escribe un evento de auditoría. A futuro puede cablearse a un sink
// externo; hoy sale por el logger con el tag audit=true.
func Log(ctx context.Context, event string, fields map[string]any) {
	zfields := make([]zap.Field, 0, len(fields)+2)
	zfields = append(zfields, zap.Bool("audit", true), zap.String("event", event))
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}
	logger.From(ctx).Info("audit", zfields...)
}
