package port

import (
	"context"

	"crop-doctor/internal/domain/entity"
)

// ConversationRepository интерфейс хранилища контекстов чатов
type ConversationRepository interface {
	// Get возвращает контекст чата, создаёт новый если не найден
	Get(ctx context.Context, chatID, userID int64) (*entity.Conversation, error)

	// Save сохраняет контекст
	Save(ctx context.Context, conversation *entity.Conversation) error

	// UpdateState обновляет состояние чата
	UpdateState(ctx context.Context, chatID int64, state entity.ConversationState) error
}
