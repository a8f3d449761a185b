package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"strix/internal/logging"
	"strix/internal/memory"
)

// manualSessionID tags memories created through the API rather than by a
// session run.
const manualSessionID = "manual"

type memoryHandler struct {
	memories   *memory.Service
	compressor *memory.Compressor
	logger     logging.Logger
}

func newMemoryHandler(memories *memory.Service, compressor *memory.Compressor) *memoryHandler {
	return &memoryHandler{
		memories:   memories,
		compressor: compressor,
		logger:     logging.NewComponentLogger("memory-api"),
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (h *memoryHandler) list(c *gin.Context) {
	filter := memory.ListFilter{
		SessionID: c.Query("sessionId"),
		Keyword:   c.Query("keyword"),
		Offset:    int64(intQuery(c, "offset", 0)),
		Limit:     intQuery(c, "limit", 20),
	}
	if t := c.Query("type"); t != "" {
		filter.Type = memory.ParseType(t)
	}
	records := h.memories.List(c.Request.Context(), filter, c.Query("userId"))
	c.JSON(http.StatusOK, gin.H{"memories": records, "count": len(records)})
}

func (h *memoryHandler) count(c *gin.Context) {
	var memType memory.Type
	if t := c.Query("type"); t != "" {
		memType = memory.ParseType(t)
	}
	n := h.memories.Count(c.Request.Context(), memType, c.Query("sessionId"), c.Query("userId"))
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *memoryHandler) search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	topK := intQuery(c, "topK", 10)
	records := h.memories.Search(c.Request.Context(), query, topK, c.Query("userId"))
	c.JSON(http.StatusOK, gin.H{"memories": records, "count": len(records)})
}

type createMemoryRequest struct {
	UserID     string  `json:"userId"`
	Content    string  `json:"content"`
	MemoryType string  `json:"memoryType"`
	Importance float32 `json:"importance"`
}

func (h *memoryHandler) create(c *gin.Context) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	importance := req.Importance
	if importance <= 0 {
		importance = 0.8
	}
	h.memories.Remember(c.Request.Context(), manualSessionID, req.Content,
		memory.ParseType(req.MemoryType), importance, req.UserID)
	c.JSON(http.StatusCreated, gin.H{"message": "Memory stored"})
}

func (h *memoryHandler) deleteByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory id"})
		return
	}
	if err := h.memories.DeleteByID(c.Request.Context(), id, c.Query("userId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Memory deleted"})
}

func (h *memoryHandler) deleteBulk(c *gin.Context) {
	userID := c.Query("userId")
	ctx := c.Request.Context()

	if sessionID := c.Query("sessionId"); sessionID != "" {
		if err := h.memories.DeleteBySession(ctx, sessionID, userID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Memories deleted"})
		return
	}
	if t := c.Query("type"); t != "" {
		if err := h.memories.DeleteByType(ctx, memory.ParseType(t), userID); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Memories deleted"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId or type is required"})
}

type compressRequest struct {
	UserID string `json:"userId"`
}

func (h *memoryHandler) compressPrepare(c *gin.Context) {
	var req compressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result := h.compressor.Prepare(c.Request.Context(), req.UserID)
	c.JSON(http.StatusOK, result)
}

type compressExecuteRequest struct {
	UserID    string                    `json:"userId"`
	DeleteIDs []int64                   `json:"deleteIds"`
	Memories  []memory.CompressedMemory `json:"memories"`
}

func (h *memoryHandler) compressExecute(c *gin.Context) {
	var req compressExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.compressor.Execute(c.Request.Context(), req.UserID, req.DeleteIDs, req.Memories)
	c.JSON(http.StatusOK, gin.H{"message": "Compression applied"})
}
