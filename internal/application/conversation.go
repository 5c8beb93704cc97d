package app

import (
	"context"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
)

type ConversationService struct {
	repo port.ConversationRepository
}

func NewConversationService(repo port.ConversationRepository) *ConversationService {
	return &ConversationService{repo: repo}
}

func (s *ConversationService) Get(ctx context.Context, chatID, userID int64) (*entity.Conversation, error) {
	return s.repo.Get(ctx, chatID, userID)
}

func (s *ConversationService) update(ctx context.Context, chatID, userID int64, fn func(*entity.Conversation)) (*entity.Conversation, error) {
	conv, err := s.repo.Get(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	fn(conv)
	if err := s.repo.Save(ctx, conv); err != nil {
		return nil, err
	}

	return conv, nil
}

func (s *ConversationService) Reset(ctx context.Context, chatID, userID int64) (*entity.Conversation, error) {
	return s.update(ctx, chatID, userID, func(c *entity.Conversation) { c.FinishAnalysis() })
}

// AwaitPhoto переводит чат в ожидание фото, не трогая заглушку идущей диагностики
func (s *ConversationService) AwaitPhoto(ctx context.Context, chatID, userID int64) (*entity.Conversation, error) {
	if _, err := s.repo.Get(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateState(ctx, chatID, entity.StateAwaitingPhoto); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, chatID, userID)
}

// BeginAnalysis запоминает заглушку, которую будет редактировать диагностика
func (s *ConversationService) BeginAnalysis(ctx context.Context, chatID, userID int64, placeholderID int) (*entity.Conversation, error) {
	return s.update(ctx, chatID, userID, func(c *entity.Conversation) { c.BeginAnalysis(placeholderID) })
}

func (s *ConversationService) FinishAnalysis(ctx context.Context, chatID, userID int64) (*entity.Conversation, error) {
	return s.update(ctx, chatID, userID, func(c *entity.Conversation) { c.FinishAnalysis() })
}
