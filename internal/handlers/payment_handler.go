package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/intake"
	"pop-reconciliation-backend/internal/services/report"
	"pop-reconciliation-backend/internal/storage"
)

const maxImageBytes = 16 << 20

type PaymentHandler struct {
	payments *repository.PaymentRepository
	intake   *intake.Service
	blobs    storage.BlobStore
}

func NewPaymentHandler(payments *repository.PaymentRepository, intakeService *intake.Service, blobs storage.BlobStore) *PaymentHandler {
	return &PaymentHandler{payments: payments, intake: intakeService, blobs: blobs}
}

// paymentView is a payment as the API returns it, with a link to its image.
type paymentView struct {
	models.Payment
	ImageURL string `json:"image_url"`
}

func (h *PaymentHandler) view(p models.Payment) paymentView {
	v := paymentView{Payment: p}
	if p.BlobKey != "" {
		v.ImageURL = h.blobs.URL(p.BlobKey)
	}
	return v
}

func (h *PaymentHandler) views(payments []models.Payment) []paymentView {
	out := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		out = append(out, h.view(p))
	}
	return out
}

// List returns recent payments, or every payment in one status.
func (h *PaymentHandler) List(c *gin.Context) {
	var (
		payments []models.Payment
		err      error
	)
	if status := c.Query("status"); status != "" {
		payments, err = h.payments.ListByStatus(c.Request.Context(), models.VerificationStatus(status))
	} else {
		limit, convErr := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if convErr != nil || limit <= 0 {
			limit = 100
		}
		payments, err = h.payments.ListRecent(c.Request.Context(), limit)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.views(payments)})
}

func (h *PaymentHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid payment ID")
	if !ok {
		return
	}
	p, err := h.payments.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(*p))
}

// Upload is the manual submission path. Creation errors are returned to the
// caller; analysis runs in the background.
func (h *PaymentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
		return
	}

	p, err := h.intake.Submit(c.Request.Context(), intake.Submission{
		Image:    data,
		MimeType: header.Header.Get("Content-Type"),
		Source: models.SourceMetadata{
			ChannelID: "upload",
			SenderID:  c.PostForm("sender"),
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(*p))
}

// Customers groups every payment by sender.
func (h *PaymentHandler) Customers(c *gin.Context) {
	payments, err := h.payments.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": report.CustomerSummaries(payments)})
}
