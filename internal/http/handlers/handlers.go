package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/models"
	"github.com/servicedesk_bot/backend/internal/service"
	"github.com/servicedesk_bot/backend/internal/tools"
)

type ChatHandler interface {
	Handle(ctx context.Context, msg models.InboundMessage) (service.Reply, error)
	Reset(ctx context.Context, chatID int64) error
}

type DraftReader interface {
	Read(ctx context.Context, chatID int64) (models.DraftRequest, error)
	Meta(ctx context.Context, chatID int64) (models.ChatMeta, error)
}

type HistoryStats interface {
	Ping(ctx context.Context) error
	CountByChat(ctx context.Context, limit int) (map[int64]int, error)
}

type BanAdmin interface {
	IsBanned(ctx context.Context, chatID int64) (models.Ban, bool, error)
	Unban(ctx context.Context, chatID int64) error
}

type CatalogReloader interface {
	Get() config.Catalog
	Reload() error
}

type Handler struct {
	Chats          ChatHandler
	Drafts         DraftReader
	History        HistoryStats
	Bans           BanAdmin
	Catalog        CatalogReloader
	Validator      *validator.Validate
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

type DraftResponse struct {
	ChatID  int64               `json:"chat_id"`
	Draft   models.DraftRequest `json:"draft"`
	Meta    models.ChatMeta     `json:"meta"`
	Banned  bool                `json:"banned"`
	Ban     *models.Ban         `json:"ban,omitempty"`
	Missing []models.Field      `json:"missing"`
}

type ChatStat struct {
	ChatID   int64 `json:"chat_id"`
	Messages int   `json:"messages"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.History.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "History store unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Deliver a chat message
// @Description Runs one conversation turn for a normalized inbound message. Skipped messages (service, banned, muted, duplicate) get 204.
// @Tags messages
// @Accept json
// @Produce json
// @Param message body models.InboundMessage true "Inbound message"
// @Success 200 {object} service.Reply
// @Success 204
// @Failure 400 {object} map[string]any
// @Router /api/messages [post]
func (h *Handler) PostMessage(c *gin.Context) {
	var msg models.InboundMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(msg); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx := c.Request.Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}
	reply, err := h.Chats.Handle(ctx, msg)
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "Message processing timed out", nil)
			return
		}
		if errors.Is(err, service.ErrLanesClosed) {
			writeError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Message processing failed", err.Error())
		return
	}
	if reply.Skipped != "" {
		c.Header("X-Skip-Reason", reply.Skipped)
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// @Summary Chat draft
// @Description Current draft request, chat bookkeeping and ban state of one chat.
// @Tags chats
// @Produce json
// @Param id path int true "Chat ID"
// @Success 200 {object} DraftResponse
// @Failure 400 {object} map[string]any
// @Router /api/chats/{id}/draft [get]
func (h *Handler) GetDraft(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	d, err := h.Drafts.Read(ctx, chatID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to read draft", err.Error())
		return
	}
	meta, err := h.Drafts.Meta(ctx, chatID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to read chat meta", err.Error())
		return
	}
	resp := DraftResponse{ChatID: chatID, Draft: d, Meta: meta, Missing: tools.MissingForCreate(d)}
	if h.Bans != nil {
		ban, banned, err := h.Bans.IsBanned(ctx, chatID)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to read ban state", err.Error())
			return
		}
		if banned {
			resp.Banned = true
			resp.Ban = &ban
		}
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Reset chat draft
// @Tags chats
// @Produce json
// @Param id path int true "Chat ID"
// @Success 200 {object} map[string]any
// @Router /api/chats/{id}/reset [post]
func (h *Handler) ResetChat(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	if err := h.Chats.Reset(c.Request.Context(), chatID); err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to reset draft", err.Error())
		return
	}
	h.Logger.Info().Int64("chat_id", chatID).Msg("draft reset by operator")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Lift a chat ban
// @Tags chats
// @Produce json
// @Param id path int true "Chat ID"
// @Success 200 {object} map[string]any
// @Router /api/chats/{id}/ban [delete]
func (h *Handler) Unban(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	if err := h.Bans.Unban(c.Request.Context(), chatID); err != nil {
		writeError(c, http.StatusInternalServerError, "STORE_ERROR", "Failed to lift ban", err.Error())
		return
	}
	h.Logger.Info().Int64("chat_id", chatID).Msg("ban lifted by operator")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Most active chats
// @Tags chats
// @Produce json
// @Param limit query int false "Max chats" default(50)
// @Success 200 {object} map[string]any
// @Router /api/chats/stats [get]
func (h *Handler) ChatStats(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	counts, err := h.History.CountByChat(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to count messages", err.Error())
		return
	}
	items := make([]ChatStat, 0, len(counts))
	for id, n := range counts {
		items = append(items, ChatStat{ChatID: id, Messages: n})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Messages != items[j].Messages {
			return items[i].Messages > items[j].Messages
		}
		return items[i].ChatID < items[j].ChatID
	})
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Reload the branch catalog
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Router /api/catalog/reload [post]
func (h *Handler) ReloadCatalog(c *gin.Context) {
	if err := h.Catalog.Reload(); err != nil {
		writeError(c, http.StatusUnprocessableEntity, "CATALOG_INVALID", "Catalog reload failed, previous catalog kept", err.Error())
		return
	}
	cat := h.Catalog.Get()
	h.Logger.Info().Int("branches", len(cat.Branches)).Int("directions", len(cat.Directions)).Msg("catalog reloaded")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "branches": len(cat.Branches), "directions": len(cat.Directions)})
}

func chatIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Chat id must be a non-zero integer", c.Param("id"))
		return 0, false
	}
	return id, true
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
