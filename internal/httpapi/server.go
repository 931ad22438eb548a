// Package httpapi exposes the platform admin API: broadcast management,
// bot runtime control and health.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/botfactory/botfactory/internal/broadcast"
	"github.com/botfactory/botfactory/internal/config"
	"github.com/botfactory/botfactory/internal/database"
	"github.com/botfactory/botfactory/internal/gemini"
)

// summaryExchangeLimit bounds how much history feeds a conversation summary.
const summaryExchangeLimit = 10

// BotRuntime is the slice of the runtime manager the API drives.
type BotRuntime interface {
	Start(ctx context.Context, bot *database.Bot) error
	Stop(ctx context.Context, botID int64) error
	IsActive(botID int64) bool
	ListActive() []int64
	Reconcile(ctx context.Context) error
}

// Server carries the API handlers and their dependencies.
type Server struct {
	cfg        config.HTTPConfig
	store      database.Store
	broadcasts *broadcast.Service
	runtime    BotRuntime
	ai         gemini.Client
	logger     *slog.Logger
}

// NewServer wires the admin API.
func NewServer(cfg config.HTTPConfig, store database.Store, broadcasts *broadcast.Service, rt BotRuntime, ai gemini.Client, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		broadcasts: broadcasts,
		runtime:    rt,
		ai:         ai,
		logger:     logger.With("component", "httpapi"),
	}
}

// Router builds the gin engine with all routes registered. Everything except
// the health endpoint sits behind bearer-token auth.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)

	api := router.Group("/", s.requireAuth)
	{
		api.POST("/broadcasts", s.handleCreateBroadcast)
		api.GET("/broadcasts/:id", s.handleGetBroadcast)
		api.GET("/broadcasts/:id/targets", s.handleListTargets)
		api.POST("/broadcasts/:id/send", s.handleSendBroadcast)
		api.POST("/broadcasts/:id/cancel", s.handleCancelBroadcast)

		api.GET("/conversations/:id/summary", s.handleConversationSummary)

		api.GET("/runtime/active", s.handleListActive)
		api.POST("/runtime/reconcile", s.handleReconcile)
		api.POST("/bots/:id/start", s.handleStartBot)
		api.POST("/bots/:id/stop", s.handleStopBot)
	}

	return router
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createBroadcastRequest struct {
	Title        string     `json:"title"`
	MessageText  string     `json:"message_text" binding:"required"`
	MessageHTML  string     `json:"message_html"`
	TargetTier   string     `json:"target_tier" binding:"required"`
	AllowBasic   bool       `json:"allow_basic"`
	AllowPremium bool       `json:"allow_premium"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
}

func (s *Server) handleCreateBroadcast(c *gin.Context) {
	var req createBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := s.broadcasts.Create(c.Request.Context(), broadcast.Definition{
		Title:        req.Title,
		MessageText:  req.MessageText,
		MessageHTML:  req.MessageHTML,
		TargetTier:   req.TargetTier,
		AllowBasic:   req.AllowBasic,
		AllowPremium: req.AllowPremium,
		ScheduledAt:  req.ScheduledAt,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, broadcastResponse(b))
}

func (s *Server) handleGetBroadcast(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	b, err := s.store.GetBroadcast(c.Request.Context(), id)
	if err != nil {
		s.renderStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, broadcastResponse(b))
}

func (s *Server) handleListTargets(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	b, err := s.store.GetBroadcast(c.Request.Context(), id)
	if err != nil {
		s.renderStoreError(c, err)
		return
	}

	targets, err := s.broadcasts.ResolveTargets(c.Request.Context(), b)
	if err != nil {
		s.renderStoreError(c, err)
		return
	}

	out := make([]gin.H, 0, len(targets))
	for _, t := range targets {
		out = append(out, gin.H{
			"bot_id":    t.BotID,
			"tenant_id": t.TenantID,
			"bot_name":  t.BotName,
			"tier":      t.Tier,
		})
	}
	c.JSON(http.StatusOK, gin.H{"broadcast_id": id, "total": len(out), "targets": out})
}

func (s *Server) handleSendBroadcast(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	// The run is detached from the request: an admin disconnect mid-run must
	// not fail the remaining targets and burn the broadcast as sent. Only
	// process shutdown interrupts delivery.
	result, err := s.broadcasts.Send(context.WithoutCancel(c.Request.Context()), id)
	if err != nil {
		if errors.Is(err, database.ErrAlreadySent) {
			c.JSON(http.StatusConflict, gin.H{"error": "broadcast already sent"})
			return
		}
		s.renderStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"broadcast_id": result.BroadcastID,
		"total":        result.Total,
		"successful":   result.Successful,
		"failed":       result.Failed,
	})
}

func (s *Server) handleCancelBroadcast(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.broadcasts.CancelScheduled(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrAlreadySent) {
			c.JSON(http.StatusConflict, gin.H{"error": "broadcast already sent"})
			return
		}
		s.renderStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcast_id": id, "cancelled": true})
}

func (s *Server) handleConversationSummary(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	messages, err := s.store.ListExchanges(ctx, id, summaryExchangeLimit)
	if err != nil {
		s.renderStoreError(c, err)
		return
	}

	exchanges := make([]gemini.Exchange, 0, len(messages))
	for _, m := range messages {
		exchanges = append(exchanges, gemini.Exchange{UserMessage: m.UserMessage, BotResponse: m.BotResponse})
	}

	summary, err := s.ai.SummarizeConversation(ctx, exchanges)
	if err != nil {
		if errors.Is(err, gemini.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ai backend unavailable"})
			return
		}
		s.logger.ErrorContext(ctx, "Conversation summary failed", "conversation_id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "summary generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": id,
		"exchanges":       len(exchanges),
		"summary":         summary,
	})
}

func (s *Server) handleListActive(c *gin.Context) {
	ids := s.runtime.ListActive()
	c.JSON(http.StatusOK, gin.H{"count": len(ids), "bot_ids": ids})
}

func (s *Server) handleReconcile(c *gin.Context) {
	if err := s.runtime.Reconcile(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": len(s.runtime.ListActive())})
}

func (s *Server) handleStartBot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		s.renderStoreError(c, err)
		return
	}
	if !bot.IsActive {
		c.JSON(http.StatusConflict, gin.H{"error": "bot is deactivated"})
		return
	}

	if err := s.runtime.Start(ctx, bot); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateBotStatus(ctx, id, database.BotStatusActive); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist bot status", "bot_id", id, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": id, "status": database.BotStatusActive})
}

func (s *Server) handleStopBot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := s.runtime.Stop(ctx, id); err != nil && !errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateBotStatus(ctx, id, database.BotStatusInactive); err != nil {
		s.renderStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": id, "status": database.BotStatusInactive})
}

func (s *Server) renderStoreError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.logger.ErrorContext(c.Request.Context(), "Request failed",
		"method", c.Request.Method, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func broadcastResponse(b *database.Broadcast) gin.H {
	resp := gin.H{
		"id":            b.ID,
		"title":         b.Title,
		"message_text":  b.MessageText,
		"target_tier":   b.TargetTier,
		"allow_basic":   b.AllowBasic,
		"allow_premium": b.AllowPremium,
		"is_scheduled":  b.IsScheduled,
		"is_sent":       b.IsSent,
	}
	if b.MessageHTML != "" {
		resp["message_html"] = b.MessageHTML
	}
	if b.ScheduledAt.Valid {
		resp["scheduled_at"] = b.ScheduledAt.Time.UTC()
	}
	if b.IsSent {
		resp["sent_at"] = b.SentAt.Time.UTC()
		resp["total_bots"] = b.TotalBots
		resp["successful_sends"] = b.SuccessfulSends
		resp["failed_sends"] = b.FailedSends
	}
	return resp
}
