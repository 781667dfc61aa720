package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pop-reconciliation-backend/internal/events"
	"pop-reconciliation-backend/internal/models"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/extraction"
	"pop-reconciliation-backend/internal/services/forensics"
	"pop-reconciliation-backend/internal/services/intake"
	"pop-reconciliation-backend/internal/services/reconciliation"
	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/storage"
	"pop-reconciliation-backend/internal/testutil"
)

type MockCapability struct {
	AnalyzeFunc func(image []byte) (string, error)
}

func (m *MockCapability) Analyze(_ context.Context, image []byte, _ string) (string, error) {
	return m.AnalyzeFunc(image)
}

type MockFetcher struct {
	FetchFunc func(mediaID string) (*intake.Media, error)
}

func (m *MockFetcher) Fetch(_ context.Context, mediaID string) (*intake.Media, error) {
	return m.FetchFunc(mediaID)
}

type testEnv struct {
	router   *gin.Engine
	payments *repository.PaymentRepository
	intake   *intake.Service
	recon    *reconciliation.ReconciliationService
}

func modelAnswer(reference string) string {
	return fmt.Sprintf("```json\n{\"amount\": 100, \"date\": %q, \"reference\": %q, \"bankName\": \"FNB\", \"confidence\": 95}\n```",
		time.Now().Format("2006-01-02"), reference)
}

func setupRouter(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	db := testutil.NewTestDB(t)

	payments := repository.NewPaymentRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	transactions := repository.NewBankTransactionRepository(db)
	verifier := verification.NewService(payments, &events.Recorder{})

	blobs, err := storage.NewFileStore(t.TempDir(), "/blobs")
	require.NoError(t, err)

	capability := &MockCapability{AnalyzeFunc: func([]byte) (string, error) {
		return modelAnswer("INV-001"), nil
	}}
	fetcher := &MockFetcher{FetchFunc: func(mediaID string) (*intake.Media, error) {
		return &intake.Media{Data: []byte("image " + mediaID), MimeType: "image/jpeg"}, nil
	}}

	intakeService := intake.NewService(
		payments,
		verifier,
		blobs,
		extraction.NewAdapter(capability),
		forensics.NewScorer(payments),
		intake.NewMemoryGuard(intake.MessageTTL),
		fetcher,
	)
	recon := reconciliation.NewReconciliationService(invoices, transactions, payments, verifier)

	paymentHandler := NewPaymentHandler(payments, intakeService, blobs)
	blobHandler := NewBlobHandler(blobs)
	webhookHandler := NewWebhookHandler(intakeService, "verify-me")
	reconHandler := NewReconciliationHandler(recon)

	router := gin.New()
	router.GET("/blobs/*key", blobHandler.Get)
	router.GET("/webhooks/whatsapp", webhookHandler.Verify)
	router.POST("/webhooks/whatsapp", webhookHandler.Receive)
	router.GET("/api/payments", paymentHandler.List)
	router.POST("/api/payments", paymentHandler.Upload)
	router.GET("/api/payments/:id", paymentHandler.Get)
	router.GET("/api/customers", paymentHandler.Customers)
	router.GET("/api/bank-transactions", reconHandler.ListTransactions)
	router.POST("/api/bank-transactions/import", reconHandler.Import)
	router.POST("/api/bank-transactions/upload", reconHandler.Upload)
	router.POST("/api/bank-transactions/simulate", reconHandler.Simulate)
	router.POST("/api/bank-transactions/:id/match", reconHandler.ManualMatchTransaction)
	router.GET("/api/bank-transactions/batches/:batchId/progress", reconHandler.GetBatchProgress)
	router.GET("/api/bank-transactions/batches/:batchId/stats", reconHandler.GetBatchStats)
	router.DELETE("/api/bank-transactions/batches/:batchId", reconHandler.UndoBatch)
	router.POST("/api/reconciliation/run", reconHandler.Run)

	return &testEnv{router: router, payments: payments, intake: intakeService, recon: recon}
}

func (e *testEnv) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(method, path string, payload interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	return e.do(method, path, body, "application/json")
}

func (e *testEnv) upload(path, field, filename string, data []byte, extra map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile(field, filename)
	_, _ = part.Write(data)
	for k, v := range extra {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	return e.do(http.MethodPost, path, buf.Bytes(), mw.FormDataContentType())
}

func TestWebhookVerify(t *testing.T) {
	env := setupRouter(t)

	t.Run("Matching token", func(t *testing.T) {
		w := env.do(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "42", w.Body.String())
	})

	t.Run("Wrong token", func(t *testing.T) {
		w := env.do(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestWebhookReceive(t *testing.T) {
	env := setupRouter(t)

	t.Run("Invalid JSON", func(t *testing.T) {
		w := env.do(http.MethodPost, "/webhooks/whatsapp", []byte("{not json"), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Image message", func(t *testing.T) {
		payload := map[string]interface{}{
			"object": "whatsapp_business_account",
			"entry": []interface{}{map[string]interface{}{
				"changes": []interface{}{map[string]interface{}{
					"field": "messages",
					"value": map[string]interface{}{
						"metadata": map[string]string{"phone_number_id": "phone-1"},
						"messages": []interface{}{map[string]interface{}{
							"from":      "27825550000",
							"id":        "wamid.77",
							"timestamp": "1718000000",
							"type":      "image",
							"image":     map[string]string{"id": "media-77", "mime_type": "image/jpeg"},
						}},
					},
				}},
			}},
		}

		w := env.doJSON(http.MethodPost, "/webhooks/whatsapp", payload)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "EVENT_RECEIVED", w.Body.String())

		env.intake.Wait()
		all, err := env.payments.ListAll(context.Background())
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "27825550000", all[0].Source.SenderID)
		assert.Equal(t, models.StatusAIMatched, all[0].VerificationStatus)
	})

	t.Run("Text message is acknowledged", func(t *testing.T) {
		w := env.doJSON(http.MethodPost, "/webhooks/whatsapp", map[string]interface{}{"object": "x"})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPaymentUploadAndGet(t *testing.T) {
	env := setupRouter(t)

	w := env.upload("/api/payments", "image", "pop.jpg", []byte("uploaded image"), map[string]string{"sender": "27820001111"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.StatusPending, created.VerificationStatus)

	env.intake.Wait()

	w = env.do(http.MethodGet, "/api/payments/"+created.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stored models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, models.StatusAIMatched, stored.VerificationStatus)
	assert.Equal(t, "INV-001", stored.Extraction.Reference)

	w = env.do(http.MethodGet, "/api/payments/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/payments/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/customers", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "27820001111")

	w = env.upload("/api/payments", "image", "empty.jpg", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentImageIsServed(t *testing.T) {
	env := setupRouter(t)
	png := []byte("\x89PNG\r\n\x1a\n proof of payment")

	w := env.upload("/api/payments", "image", "pop.png", png, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	env.intake.Wait()

	var created struct {
		ID       string `json:"id"`
		BlobKey  string `json:"blob_key"`
		ImageURL string `json:"image_url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.BlobKey)
	assert.Equal(t, "/blobs/"+created.BlobKey, created.ImageURL)

	w = env.do(http.MethodGet, created.ImageURL, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, png, w.Body.Bytes())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = env.do(http.MethodGet, "/api/payments/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"image_url":"/blobs/`+created.BlobKey+`"`)

	w = env.do(http.MethodGet, "/api/payments", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.ImageURL)

	w = env.do(http.MethodGet, "/blobs/"+uuid.NewString()+".png", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportReconcileAndUndo(t *testing.T) {
	env := setupRouter(t)

	w := env.upload("/api/payments", "image", "pop.jpg", []byte("pop for INV-001"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	env.intake.Wait()

	w = env.doJSON(http.MethodPost, "/api/bank-transactions/import", map[string]interface{}{
		"filename": "june.csv",
		"transactions": []map[string]interface{}{{
			"date":        time.Now().Format("2006-01-02"),
			"amount":      100,
			"description": "Payment INV-001 thanks",
			"reference":   "Payment INV-001 thanks",
		}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var imported reconciliation.ImportResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &imported))
	assert.Equal(t, 1, imported.Count)

	w = env.do(http.MethodPost, "/api/reconciliation/run", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res reconciliation.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Matches)

	w = env.do(http.MethodGet, "/api/bank-transactions/batches/"+imported.BatchID.String()+"/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reconciled_count":1`)

	w = env.do(http.MethodDelete, "/api/bank-transactions/batches/"+imported.BatchID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":1`)

	w = env.do(http.MethodGet, "/api/bank-transactions/batches/"+imported.BatchID.String()+"/progress", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.BatchUndone)

	w = env.do(http.MethodDelete, "/api/bank-transactions/batches/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.doJSON(http.MethodPost, "/api/bank-transactions/import", map[string]interface{}{"transactions": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatementUpload(t *testing.T) {
	env := setupRouter(t)

	csv := []byte("Date,Description,Amount,Reference\n" +
		"2025-01-15,Payment from John,1500.00,INV-001\n" +
		"2025-01-16,Bank fee,-25.50,FEE\n")

	w := env.upload("/api/bank-transactions/upload", "file", "jan.csv", csv, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted struct {
		BatchID string `json:"batch_id"`
		Total   int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, 2, accepted.Total)

	env.recon.Wait()

	w = env.do(http.MethodGet, "/api/bank-transactions/batches/"+accepted.BatchID+"/progress", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var progress reconciliation.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, models.BatchCompleted, progress.Status)
	assert.Equal(t, 2, progress.ProcessedCount)

	w = env.do(http.MethodGet, "/api/bank-transactions?status=Unreconciled", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Payment from John")

	w = env.upload("/api/bank-transactions/upload", "file", "jan.docx", csv, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualMatch(t *testing.T) {
	env := setupRouter(t)
	ctx := context.Background()

	original, err := env.intake.CreatePayment(ctx, intake.Submission{Image: []byte("same")})
	require.NoError(t, err)
	dup, err := env.intake.CreatePayment(ctx, intake.Submission{Image: []byte("same")})
	require.NoError(t, err)
	require.Equal(t, models.StatusFlaggedDuplicate, dup.VerificationStatus)

	w := env.doJSON(http.MethodPost, "/api/bank-transactions/simulate", map[string]interface{}{
		"amount":    "80.00",
		"reference": "CASH-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var tx models.BankTransaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	assert.Equal(t, "INSTANT TRF FROM: CASH-1 / 123456", tx.Description)

	path := "/api/bank-transactions/" + tx.ID.String() + "/match"

	w = env.doJSON(http.MethodPost, path, map[string]string{"payment_id": dup.ID.String()})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.doJSON(http.MethodPost, path, map[string]string{"payment_id": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.doJSON(http.MethodPost, path, map[string]string{"payment_id": original.ID.String(), "performed_by": "ops"})
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := env.payments.GetByID(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBankVerified, stored.VerificationStatus)

	w = env.doJSON(http.MethodPost, path, map[string]string{"payment_id": original.ID.String()})
	assert.Equal(t, http.StatusConflict, w.Code)
}
