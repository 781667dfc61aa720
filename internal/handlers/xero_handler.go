package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/accounting"
)

type XeroHandler struct {
	client   *accounting.XeroClient
	invoices *repository.InvoiceRepository
}

func NewXeroHandler(client *accounting.XeroClient, invoices *repository.InvoiceRepository) *XeroHandler {
	return &XeroHandler{client: client, invoices: invoices}
}

func (h *XeroHandler) AuthURL(c *gin.Context) {
	url, err := h.client.AuthURL(uuid.NewString())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *XeroHandler) Callback(c *gin.Context) {
	var payload struct {
		Code            string `json:"code"`
		TokenIdentifier string `json:"token_identifier"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code required"})
		return
	}
	if payload.TokenIdentifier == "" {
		payload.TokenIdentifier = accounting.DefaultTokenIdentifier
	}

	tenantID, err := h.client.ExchangeCode(c.Request.Context(), payload.Code, payload.TokenIdentifier)
	if errors.Is(err, accounting.ErrNotConfigured) {
		respondError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tenant_id": tenantID})
}

func (h *XeroHandler) Sync(c *gin.Context) {
	identifier := c.DefaultQuery("token_identifier", accounting.DefaultTokenIdentifier)
	count, err := h.client.SyncInvoices(c.Request.Context(), identifier)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *XeroHandler) ListInvoices(c *gin.Context) {
	invoices, err := h.invoices.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": invoices})
}
