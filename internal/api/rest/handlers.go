package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"crop-doctor/config"
	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/logging"
)

type analyzeTextRequest struct {
	ClassName  string   `json:"class_name" binding:"required"`
	Confidence *float64 `json:"confidence" binding:"required"`
	TopProbs   []string `json:"top_probs"`
}

func (s *Server) handleHealth(c *gin.Context) {
	labelsVersion := ""
	if labels := s.diagnosis.Labels(); labels != nil {
		labelsVersion = labels.Version
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"model_loaded":   s.diagnosis.Available(),
		"bot_loaded":     s.bot != nil,
		"labels_version": labelsVersion,
	})
}

func (s *Server) handlePredict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)

	file, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "file is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return
	}

	if !s.diagnosis.Available() {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Model not loaded"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unable to open file"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to read file"})
		return
	}
	if len(data) > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "file is too large"})
		return
	}

	result, err := s.diagnosis.Diagnose(c.Request.Context(), c.GetString("request_id"), data)
	if err != nil {
		detail := err.Error()
		if logging.KindOf(err) == entity.ErrModelUnavailable {
			detail = "Model not loaded"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": detail})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"class":      result.Label,
		"confidence": result.Confidence,
		"all_probs":  result.AllProbs,
	})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func (s *Server) handleAnalyzeText(c *gin.Context) {
	var req analyzeTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	report := s.advisory.Generate(c.Request.Context(), entity.AdvisoryRequest{
		Label:      req.ClassName,
		Confidence: *req.Confidence,
		TopProbs:   req.TopProbs,
	})
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// handleWebhook один апдейт на вызов; повторы доставки на стороне Telegram
func (s *Server) handleWebhook(c *gin.Context) {
	if s.bot == nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "bot is not enabled"})
		return
	}
	if s.bot.Ingress() != config.IngressWebhook {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "bot is not configured for webhook ingress"})
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "malformed update"})
		return
	}

	// Начатая диагностика не прерывается, даже если клиент отключился
	ctx := context.WithoutCancel(c.Request.Context())
	if err := s.bot.HandleUpdate(ctx, update); err != nil {
		s.logger.Warn("webhook update failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.Int("update_id", update.UpdateID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSetWebhook(c *gin.Context) {
	if s.bot == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "bot is not enabled"})
		return
	}

	url := c.Query("url")
	if url == "" {
		url = s.webhookURL
	}
	if url == "" {
		c.JSON(http.StatusOK, gin.H{"status": "warning", "message": "WEBHOOK_URL is not configured; pass ?url= or set the variable"})
		return
	}

	if err := s.bot.SetWebhook(url); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, entity.ErrIngressConflict) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "url": url})
}
