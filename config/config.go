package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Ingress способ получения апдейтов ботом
type Ingress string

const (
	IngressPolling Ingress = "polling" // long polling
	IngressWebhook Ingress = "webhook" // апдейты приходят на /api/webhook/telegram
	IngressNone    Ingress = "none"    // бот отключён
)

const (
	BackendNative = "native"
	BackendGoCV   = "gocv"
)

// DefaultModelPaths кандидаты для поиска модели, первый существующий выигрывает
var DefaultModelPaths = []string{
	"public/models/plant_stress_model.onnx",
	"api/plant_stress_model.onnx",
	"bot/plant_stress_model.onnx",
	"plant_stress_model.onnx",
}

type Config struct {
	TelegramToken string
	BotIngress    Ingress
	WebhookURL    string
	RetryDelay    time.Duration

	Port            string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	ModelPaths        []string
	LabelsPath        string
	ORTLibraryPath    string
	InferenceThreads  int
	PreprocessBackend string

	GroqAPIKey     string
	LLMBaseURL     string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration

	RedisAddr        string
	AdvisoryCacheTTL time.Duration

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{
		TelegramToken:     firstNonEmpty(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_TOKEN")),
		BotIngress:        Ingress(strings.ToLower(getEnv("BOT_INGRESS", string(IngressPolling)))),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		Port:              getEnv("PORT", "8000"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
		ModelPaths:        splitList(os.Getenv("MODEL_PATHS")),
		LabelsPath:        os.Getenv("LABELS_PATH"),
		ORTLibraryPath:    os.Getenv("ONNXRUNTIME_LIB"),
		PreprocessBackend: strings.ToLower(getEnv("PREPROCESS_BACKEND", BackendNative)),
		GroqAPIKey:        os.Getenv("GROQ_API_KEY"),
		LLMBaseURL:        getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMModel:          getEnv("LLM_MODEL", "moonshotai/kimi-k2-instruct-0905"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}
	if len(cfg.ModelPaths) == 0 {
		cfg.ModelPaths = append([]string(nil), DefaultModelPaths...)
	}

	var err error
	if cfg.RetryDelay, err = getDuration("BOT_RETRY_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.LLMTimeout, err = getDuration("LLM_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.AdvisoryCacheTTL, err = getDuration("ADVISORY_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.InferenceThreads, err = getInt("INFERENCE_THREADS", 0); err != nil {
		return nil, err
	}
	if cfg.LLMMaxTokens, err = getInt("LLM_MAX_TOKENS", 1024); err != nil {
		return nil, err
	}
	if cfg.LLMTemperature, err = getFloat("LLM_TEMPERATURE", 0.6); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch c.BotIngress {
	case IngressPolling, IngressWebhook, IngressNone:
	default:
		return fmt.Errorf("BOT_INGRESS must be one of polling, webhook, none; got %q", c.BotIngress)
	}
	switch c.PreprocessBackend {
	case BackendNative, BackendGoCV:
	default:
		return fmt.Errorf("PREPROCESS_BACKEND must be native or gocv; got %q", c.PreprocessBackend)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("BOT_RETRY_DELAY must be positive; got %s", c.RetryDelay)
	}
	if c.LLMMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive; got %d", c.LLMMaxTokens)
	}
	return nil
}

// BotEnabled сообщает, должен ли процесс поднимать бота
func (c *Config) BotEnabled() bool {
	return c.BotIngress != IngressNone
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
