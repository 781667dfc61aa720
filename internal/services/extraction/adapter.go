// Package extraction wraps the external vision model and normalizes its
// answer into an extraction plus visual fraud signals.
package extraction

import (
	"context"

	"go.uber.org/zap"

	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/telemetry"
)

type Adapter struct {
	capability Capability
}

func NewAdapter(capability Capability) *Adapter {
	return &Adapter{capability: capability}
}

// Extract never fails. A failed model call yields Fallback and an unreadable
// answer yields Empty, so the payment always reaches a reviewable status.
func (a *Adapter) Extract(ctx context.Context, image []byte, mimeType string) verification.ExtractionResult {
	ctx, span := telemetry.Tracer.Start(ctx, "extraction.Extract")
	defer span.End()

	text, err := a.capability.Analyze(ctx, image, mimeType)
	if err != nil {
		telemetry.ExtractionFallbacks.Inc()
		telemetry.Logger.Warn("Vision call failed, using fallback extraction", zap.Error(err))
		return Fallback()
	}

	res, err := Parse(text)
	if err != nil {
		telemetry.ExtractionFallbacks.Inc()
		telemetry.Logger.Warn("Unreadable vision output", zap.Error(err), zap.Int("length", len(text)))
		return Empty()
	}
	return res
}
