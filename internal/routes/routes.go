package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"pop-reconciliation-backend/internal/config"
	"pop-reconciliation-backend/internal/events"
	handler "pop-reconciliation-backend/internal/handlers"
	"pop-reconciliation-backend/internal/repository"
	"pop-reconciliation-backend/internal/services/accounting"
	"pop-reconciliation-backend/internal/services/extraction"
	"pop-reconciliation-backend/internal/services/forensics"
	"pop-reconciliation-backend/internal/services/intake"
	service "pop-reconciliation-backend/internal/services/reconciliation"
	"pop-reconciliation-backend/internal/services/verification"
	"pop-reconciliation-backend/internal/storage"
)

// BlobPath is where stored images are served. File stores should be built
// with it as their base URL.
const BlobPath = "/blobs"

// Dependencies are the outside collaborators main wires in. Nil Publisher
// and Guard fall back to the log publisher and the in-memory guard.
type Dependencies struct {
	Publisher  events.Publisher
	Guard      intake.MessageGuard
	Blobs      storage.BlobStore
	Capability extraction.Capability
	Media      intake.MediaFetcher
}

// Background is the request-started work that outlives its request.
type Background struct {
	Intake         *intake.Service
	Reconciliation *service.ReconciliationService
}

// Wait blocks until payment analysis and statement imports have finished.
func (b *Background) Wait() {
	b.Intake.Wait()
	b.Reconciliation.Wait()
}

// RegisterRoutes builds the services on db and mounts the API. The returned
// Background lets the caller drain in-flight work on shutdown.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg *config.Config, deps Dependencies) *Background {
	paymentRepo := repository.NewPaymentRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	transactionRepo := repository.NewBankTransactionRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	verifier := verification.NewService(paymentRepo, deps.Publisher)
	intakeService := intake.NewService(
		paymentRepo,
		verifier,
		deps.Blobs,
		extraction.NewAdapter(deps.Capability),
		forensics.NewScorer(paymentRepo),
		deps.Guard,
		deps.Media,
	)
	reconService := service.NewReconciliationService(
		invoiceRepo,
		transactionRepo,
		paymentRepo,
		verifier,
	)
	xero := accounting.NewXeroClient(cfg.XeroClientID, cfg.XeroClientSecret, cfg.XeroRedirectURI, tokenRepo, invoiceRepo)

	paymentHandler := handler.NewPaymentHandler(paymentRepo, intakeService, deps.Blobs)
	blobHandler := handler.NewBlobHandler(deps.Blobs)
	webhookHandler := handler.NewWebhookHandler(intakeService, cfg.WhatsAppVerifyToken)
	reconHandler := handler.NewReconciliationHandler(reconService)
	xeroHandler := handler.NewXeroHandler(xero, invoiceRepo)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET(BlobPath+"/*key", blobHandler.Get)

	webhooks := r.Group("/webhooks")
	webhooks.GET("/whatsapp", webhookHandler.Verify)
	webhooks.POST("/whatsapp", webhookHandler.Receive)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	payments := api.Group("/payments")
	payments.GET("", paymentHandler.List)
	payments.POST("", paymentHandler.Upload)
	payments.GET("/:id", paymentHandler.Get)
	api.GET("/customers", paymentHandler.Customers)

	// Bank statement routes
	bank := api.Group("/bank-transactions")
	bank.GET("", reconHandler.ListTransactions)
	bank.POST("/import", reconHandler.Import)
	bank.POST("/upload", reconHandler.Upload)
	bank.POST("/simulate", reconHandler.Simulate)
	bank.POST("/:id/match", reconHandler.ManualMatchTransaction)
	bank.GET("/batches/:batchId/progress", reconHandler.GetBatchProgress)
	bank.GET("/batches/:batchId/stats", reconHandler.GetBatchStats)
	bank.DELETE("/batches/:batchId", reconHandler.UndoBatch)

	recon := api.Group("/reconciliation")
	recon.POST("/run", reconHandler.Run)

	xeroRoutes := api.Group("/xero")
	{
		xeroRoutes.GET("/auth-url", xeroHandler.AuthURL)
		xeroRoutes.POST("/callback", xeroHandler.Callback)
		xeroRoutes.POST("/sync", xeroHandler.Sync)
		xeroRoutes.GET("/invoices", xeroHandler.ListInvoices)
	}

	return &Background{Intake: intakeService, Reconciliation: reconService}
}
