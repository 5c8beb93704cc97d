package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"crop-doctor/config"
	"crop-doctor/internal/domain/entity"
)

// MaxUploadSize предел размера загружаемого файла
const MaxUploadSize = 10 << 20

// maxRequestBody файл плюс запас на заголовки multipart
const maxRequestBody = MaxUploadSize + 1<<20

const requestIDHeader = "X-Request-ID"

// Diagnoser конвейер классификации
type Diagnoser interface {
	Available() bool
	Labels() *entity.LabelTable
	Diagnose(ctx context.Context, requestID string, imageData []byte) (*entity.Classification, error)
}

// Advisor генератор рекомендаций, никогда не возвращает ошибку
type Advisor interface {
	Generate(ctx context.Context, req entity.AdvisoryRequest) string
}

// UpdateHandler бот, принимающий апдейты через вебхук
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
	SetWebhook(url string) error
	Ingress() config.Ingress
}

// Server HTTP-слой поверх того же конвейера, что и бот
type Server struct {
	diagnosis   Diagnoser
	advisory    Advisor
	bot         UpdateHandler
	webhookURL  string
	corsOrigins []string
	logger      *zap.Logger
}

// Options необязательные части сервера
type Options struct {
	// Bot nil, если бот отключён
	Bot         UpdateHandler
	WebhookURL  string
	CORSOrigins []string
}

// NewServer создаёт HTTP-сервер; без opts.Bot вебхук отвечает ошибкой
func NewServer(diagnosis Diagnoser, advisory Advisor, logger *zap.Logger, opts Options) *Server {
	return &Server{
		diagnosis:   diagnosis,
		advisory:    advisory,
		bot:         opts.Bot,
		webhookURL:  opts.WebhookURL,
		corsOrigins: opts.CORSOrigins,
		logger:      logger.Named("http"),
	}
}

// Routes собирает gin-роутер со всеми маршрутами
func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = MaxUploadSize
	r.Use(
		gin.Recovery(),
		s.requestLogger(),
		cors.New(s.corsConfig()),
	)

	r.GET("/health", s.handleHealth)
	r.GET("/api/health", s.handleHealth)

	r.POST("/predict", s.handlePredict)
	r.POST("/api/predict", s.handlePredict)

	r.POST("/analyze-text", s.handleAnalyzeText)
	r.POST("/api/analyze-text", s.handleAnalyzeText)

	r.POST("/api/webhook/telegram", s.handleWebhook)
	r.GET("/api/set-webhook", s.handleSetWebhook)

	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = []string{"Authorization", "Content-Type", "Accept", "X-Requested-With", requestIDHeader}
	cfg.ExposeHeaders = []string{requestIDHeader}

	for _, origin := range s.corsOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(s.corsOrigins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = s.corsOrigins
	cfg.AllowWildcard = true
	return cfg
}

// requestLogger выдаёт запросу идентификатор и пишет access-лог
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Serve обслуживает server до отмены ctx, затем корректно его останавливает
func Serve(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
