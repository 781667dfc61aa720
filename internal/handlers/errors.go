package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/accounting"
	"pop-reconciliation-backend/internal/services/intake"
	"pop-reconciliation-backend/internal/services/reconciliation"
	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/storage"
	"pop-reconciliation-backend/internal/telemetry"
)

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, verification.ErrPaymentNotFound),
		errors.Is(err, reconciliation.ErrBatchNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrAlreadyReconciled),
		errors.Is(err, repository.ErrAlreadyLinked),
		errors.Is(err, verification.ErrDuplicatePayment):
		status = http.StatusConflict
	case errors.Is(err, intake.ErrEmptyImage),
		errors.Is(err, storage.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, accounting.ErrNotConnected):
		status = http.StatusPreconditionFailed
	case errors.Is(err, accounting.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		telemetry.Logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
