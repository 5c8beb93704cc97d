package app

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
)

// FallbackReport возвращается при любой ошибке генерации
const FallbackReport = "Could not generate AI insight at this time. Please rely on the classification result."

// Cache хранилище готовых рекомендаций
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// AdvisoryService генерирует короткую рекомендацию агронома по результату классификации.
// Никогда не возвращает ошибку и не повторяет запрос.
type AdvisoryService struct {
	generator port.TextGenerator
	cache     Cache
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewAdvisoryService создаёт сервис; generator == nil означает, что ключ LLM не задан
func NewAdvisoryService(generator port.TextGenerator, cache Cache, cacheTTL time.Duration, logger *zap.Logger) *AdvisoryService {
	return &AdvisoryService{
		generator: generator,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger.Named("advisory"),
	}
}

// Enabled true, если настроен внешний генератор
func (s *AdvisoryService) Enabled() bool {
	return s.generator != nil
}

// BuildPrompt собирает подсказку по фиксированному шаблону
func BuildPrompt(req entity.AdvisoryRequest) string {
	var b strings.Builder
	b.WriteString("You are an expert plant pathologist. ")
	fmt.Fprintf(&b, "The user has uploaded a crop image detected as '%s' with %.1f%% confidence. ",
		req.Label, req.Confidence*100)
	if len(req.TopProbs) > 0 {
		fmt.Fprintf(&b, "Additional context from the model (Top %d matches): %s. ",
			len(req.TopProbs), strings.Join(req.TopProbs, ", "))
	}
	b.WriteString("Provide a very short report (under 120 words). ")
	b.WriteString("1. Briefly explain what this condition is (or if it's healthy). ")
	b.WriteString("2. Give concrete, actionable advice on what the farmer should do next. ")
	b.WriteString("3. Be professional but encouraging. ")
	b.WriteString("Do not use markdown formatting like bolding, just plain text or simple bullets if needed. ")
	b.WriteString("Keep it extremely concise.")
	return b.String()
}

// Generate возвращает текст рекомендации или FallbackReport
func (s *AdvisoryService) Generate(ctx context.Context, req entity.AdvisoryRequest) (report string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("advisory generation panicked", zap.Any("panic", r))
			report = FallbackReport
		}
	}()

	if s.generator == nil {
		s.logger.Warn("advisory generator is not configured")
		return FallbackReport
	}

	prompt := BuildPrompt(req)
	key := cacheKey(prompt)
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached
	}

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Error("advisory generation failed", zap.Error(err), zap.String("class", req.Label))
		return FallbackReport
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Warn("advisory service returned empty text", zap.String("class", req.Label))
		return FallbackReport
	}

	s.toCache(ctx, key, text)
	return text
}

func (s *AdvisoryService) fromCache(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	value, err := s.cache.Get(ctx, key)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

func (s *AdvisoryService) toCache(ctx context.Context, key, text string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, text, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache advisory", zap.Error(err))
	}
}

func cacheKey(prompt string) string {
	sum := sha1.Sum([]byte(prompt))
	return "advisory:" + hex.EncodeToString(sum[:])
}
