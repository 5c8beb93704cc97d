package container

import (
	"context"
	"time"

	"go.uber.org/zap"

	"crop-doctor/config"
	"crop-doctor/internal/api/rest"
	"crop-doctor/internal/api/telegram"
	app "crop-doctor/internal/application"
	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
	"crop-doctor/internal/infrastructure/cache"
	"crop-doctor/internal/infrastructure/inference"
	"crop-doctor/internal/infrastructure/llm"
	"crop-doctor/internal/infrastructure/storage"
	"crop-doctor/internal/infrastructure/vision"
)

const redisDialTimeout = 5 * time.Second

// Container владеет ресурсами процесса; сессия модели одна на бота и HTTP
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Labels *entity.LabelTable
	Model  *inference.Loader

	DiagnosisService    *app.DiagnosisService
	AdvisoryService     *app.AdvisoryService
	ConversationService *app.ConversationService

	cache *cache.RedisCache
}

// New собирает зависимости; модель не загружается, пока не вызван LoadModelAsync или Model.Load
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Container {
	labels := loadLabels(cfg, logger)
	model := inference.NewLoader(inference.Config{
		CandidatePaths: cfg.ModelPaths,
		LibraryPath:    cfg.ORTLibraryPath,
		Threads:        cfg.InferenceThreads,
	}, labels, logger)

	c := &Container{
		Config: cfg,
		Logger: logger,
		Labels: labels,
		Model:  model,
	}

	c.DiagnosisService = app.NewDiagnosisService(newPreprocessor(cfg, logger), model, labels, logger)

	var generator port.TextGenerator
	if cfg.GroqAPIKey != "" {
		generator = llm.NewClient(cfg.GroqAPIKey,
			llm.WithBaseURL(cfg.LLMBaseURL),
			llm.WithModel(cfg.LLMModel),
			llm.WithMaxTokens(cfg.LLMMaxTokens),
			llm.WithTemperature(cfg.LLMTemperature),
			llm.WithTimeout(cfg.LLMTimeout),
		)
	} else {
		logger.Warn("GROQ_API_KEY is not set, advisory will use the fallback text")
	}

	var advisoryCache app.Cache
	if cfg.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
		redisCache, err := cache.Dial(dialCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, advisory cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			c.cache = redisCache
			advisoryCache = redisCache
		}
	}
	c.AdvisoryService = app.NewAdvisoryService(generator, advisoryCache, cfg.AdvisoryCacheTTL, logger)

	c.ConversationService = app.NewConversationService(storage.NewMemoryConversationRepository())

	return c
}

// LoadModelAsync запускает единственную загрузку модели в фоне
func (c *Container) LoadModelAsync() <-chan struct{} {
	go c.Model.Load()
	return c.Model.Done()
}

// NewBot собирает бота поверх общих сервисов
func (c *Container) NewBot(api telegram.API) *telegram.Bot {
	return telegram.NewBot(api, c.DiagnosisService, c.AdvisoryService, c.ConversationService, c.Logger, telegram.Options{
		Ingress:    c.Config.BotIngress,
		RetryDelay: c.Config.RetryDelay,
	})
}

// NewHTTPServer собирает HTTP-слой; bot может быть nil
func (c *Container) NewHTTPServer(bot *telegram.Bot) *rest.Server {
	opts := rest.Options{
		WebhookURL:  c.Config.WebhookURL,
		CORSOrigins: c.Config.CORSOrigins,
	}
	if bot != nil {
		opts.Bot = bot
	}
	return rest.NewServer(c.DiagnosisService, c.AdvisoryService, c.Logger, opts)
}

func (c *Container) Close() {
	c.Model.Close()
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

func loadLabels(cfg *config.Config, logger *zap.Logger) *entity.LabelTable {
	if cfg.LabelsPath == "" {
		return entity.DefaultLabelTable()
	}
	labels, err := entity.LoadLabelTable(cfg.LabelsPath)
	if err != nil {
		logger.Error("failed to load label table, using built-in", zap.String("path", cfg.LabelsPath), zap.Error(err))
		return entity.DefaultLabelTable()
	}
	return labels
}

func newPreprocessor(cfg *config.Config, logger *zap.Logger) port.ImagePreprocessor {
	if cfg.PreprocessBackend == config.BackendGoCV {
		logger.Info("using OpenCV preprocessor")
		return vision.NewGoCVPreprocessor()
	}
	return vision.NewPreprocessor()
}
