package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"strix/internal/keys"
	"strix/internal/logging"
)

type keyHandler struct {
	store  *keys.Store
	logger logging.Logger
}

func newKeyHandler(store *keys.Store) *keyHandler {
	return &keyHandler{store: store, logger: logging.NewComponentLogger("key-api")}
}

// maskSecret keeps only the last 4 characters of a credential.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func maskedKey(k *keys.APIKey) *keys.APIKey {
	out := *k
	out.APIKey = maskSecret(out.APIKey)
	return &out
}

func maskedEmbedding(m *keys.EmbeddingModel) *keys.EmbeddingModel {
	out := *m
	if out.APIKey != "" {
		out.APIKey = maskSecret(out.APIKey)
	}
	return &out
}

func (h *keyHandler) create(c *gin.Context) {
	var req keys.APIKey
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := h.store.CreateKey(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, maskedKey(created))
}

func (h *keyHandler) list(c *gin.Context) {
	listed := h.store.ListKeys(c.Query("userId"))
	out := make([]*keys.APIKey, 0, len(listed))
	for _, k := range listed {
		out = append(out, maskedKey(k))
	}
	c.JSON(http.StatusOK, out)
}

func (h *keyHandler) update(c *gin.Context) {
	var req keys.APIKey
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.ID = c.Param("id")
	updated, err := h.store.UpdateKey(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, maskedKey(updated))
}

func (h *keyHandler) setDefault(c *gin.Context) {
	updated, err := h.store.SetDefaultKey(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, maskedKey(updated))
}

func (h *keyHandler) remove(c *gin.Context) {
	if err := h.store.DeleteKey(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key deleted"})
}

func (h *keyHandler) createEmbedding(c *gin.Context) {
	var req keys.EmbeddingModel
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := h.store.CreateEmbeddingModel(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, maskedEmbedding(created))
}

func (h *keyHandler) listEmbeddings(c *gin.Context) {
	listed := h.store.ListEmbeddingModels(c.Query("userId"))
	out := make([]*keys.EmbeddingModel, 0, len(listed))
	for _, m := range listed {
		out = append(out, maskedEmbedding(m))
	}
	c.JSON(http.StatusOK, out)
}

func (h *keyHandler) setDefaultEmbedding(c *gin.Context) {
	updated, err := h.store.SetDefaultEmbeddingModel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, maskedEmbedding(updated))
}

func (h *keyHandler) removeEmbedding(c *gin.Context) {
	if err := h.store.DeleteEmbeddingModel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Embedding model deleted"})
}
