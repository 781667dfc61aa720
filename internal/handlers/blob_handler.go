package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pop-reconciliation-backend/internal/storage"
)

// BlobHandler serves stored proof-of-payment images at the URLs the blob
// store hands out.
type BlobHandler struct {
	blobs storage.BlobStore
}

func NewBlobHandler(blobs storage.BlobStore) *BlobHandler {
	return &BlobHandler{blobs: blobs}
}

func (h *BlobHandler) Get(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	data, err := h.blobs.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}
