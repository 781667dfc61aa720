package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pop-reconciliation-backend/internal/models"
	service "pop-reconciliation-backend/internal/services/reconciliation"
	"pop-reconciliation-backend/internal/statement"
	"pop-reconciliation-backend/internal/telemetry"
)

const maxStatementBytes = 20 << 20

type ReconciliationHandler struct {
	service *service.ReconciliationService
}

func NewReconciliationHandler(s *service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: s}
}

// Run executes both matching passes and reports how many links were made.
func (h *ReconciliationHandler) Run(c *gin.Context) {
	res, err := h.service.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type importRow struct {
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

// Import takes rows that were already normalized by the client.
func (h *ReconciliationHandler) Import(c *gin.Context) {
	var payload struct {
		Source       string      `json:"source"`
		Filename     string      `json:"filename"`
		Transactions []importRow `json:"transactions"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(payload.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no transactions"})
		return
	}
	if payload.Source == "" {
		payload.Source = service.SourceManual
	}

	rows := make([]statement.Row, 0, len(payload.Transactions))
	for _, t := range payload.Transactions {
		ref := t.Reference
		if ref == "" {
			ref = statement.DefaultReference(t.Description)
		}
		rows = append(rows, statement.Row{
			Date:        t.Date,
			Amount:      t.Amount,
			Description: t.Description,
			Reference:   ref,
		})
	}

	res, err := h.service.ImportTransactions(c.Request.Context(), payload.Source, payload.Filename, rows)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Upload parses a statement file, creates a batch and imports it in the
// background.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	parser, err := statement.ForFilename(header.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxStatementBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	rows, err := parser.Normalize(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := c.DefaultPostForm("source", service.SourceUpload)
	batch, err := h.service.CreateBatch(c.Request.Context(), source, header.Filename, len(rows))
	if err != nil {
		respondError(c, err)
		return
	}

	h.service.ImportInBackground(c.Request.Context(), batch, rows)

	telemetry.Logger.Info("Statement upload accepted",
		zap.String("batch_id", batch.ID.String()),
		zap.String("file", header.Filename),
		zap.Int("rows", len(rows)),
	)
	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batch.ID.String(),
		"status":   batch.Status,
		"total":    len(rows),
	})
}

func (h *ReconciliationHandler) GetBatchProgress(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "invalid batch ID")
	if !ok {
		return
	}
	if progress, found := h.service.GetBatchProgress(batchID); found {
		c.JSON(http.StatusOK, progress)
		return
	}

	batch, err := h.service.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.Progress{
		ProcessedCount: batch.ImportedCount + batch.SkippedCount,
		Total:          batch.TotalRows,
		Status:         batch.Status,
	})
}

func (h *ReconciliationHandler) GetBatchStats(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "invalid batch ID")
	if !ok {
		return
	}
	batch, err := h.service.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := h.service.GetBatchStats(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "stats": stats})
}

func (h *ReconciliationHandler) UndoBatch(c *gin.Context) {
	batchID, ok := parseID(c, "batchId", "invalid batch ID")
	if !ok {
		return
	}
	deleted, err := h.service.UndoImport(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "import undone", "deleted": deleted})
}

func (h *ReconciliationHandler) ListTransactions(c *gin.Context) {
	status := c.DefaultQuery("status", "all")
	cursor := c.Query("cursor")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}

	items, nextCursor, hasMore, err := h.service.ListTransactions(c.Request.Context(), status, cursor, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}

func (h *ReconciliationHandler) Simulate(c *gin.Context) {
	var payload struct {
		Amount    decimal.Decimal `json:"amount"`
		Reference string          `json:"reference"`
		Date      string          `json:"date"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount and reference are required"})
		return
	}

	var date *datatypes.Date
	if payload.Date != "" {
		d, err := models.ParseDate(payload.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date = &d
	}

	tx, err := h.service.SimulateBankTransaction(c.Request.Context(), payload.Amount, payload.Reference, date)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *ReconciliationHandler) ManualMatchTransaction(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid transaction ID")
	if !ok {
		return
	}

	var payload struct {
		PaymentID   string `json:"payment_id"`
		PerformedBy string `json:"performed_by"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	paymentID, err := uuid.Parse(payload.PaymentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment ID"})
		return
	}

	tx, err := h.service.ManualMatch(c.Request.Context(), id, paymentID, payload.PerformedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction manually matched", "transaction": tx})
}

func parseID(c *gin.Context, param, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return uuid.Nil, false
	}
	return id, true
}
