package storage

import (
	"context"
	"sync"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
)

// MemoryConversationRepository in-memory хранилище контекстов чатов
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[int64]*entity.Conversation
}

// NewMemoryConversationRepository создаёт новое in-memory хранилище
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[int64]*entity.Conversation),
	}
}

// Get возвращает копию контекста чата, создаёт новый если не найден
func (r *MemoryConversationRepository) Get(ctx context.Context, chatID, userID int64) (*entity.Conversation, error) {
	r.mu.RLock()
	conv, exists := r.conversations[chatID]
	r.mu.RUnlock()

	if exists {
		return conv.Clone(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Мог появиться, пока ждали запись
	if conv, exists = r.conversations[chatID]; exists {
		return conv.Clone(), nil
	}
	conv = entity.NewConversation(chatID, userID)
	r.conversations[chatID] = conv

	return conv.Clone(), nil
}

// Save сохраняет копию контекста
func (r *MemoryConversationRepository) Save(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	r.conversations[conversation.ChatID] = conversation.Clone()
	r.mu.Unlock()

	return nil
}

// UpdateState обновляет состояние чата
func (r *MemoryConversationRepository) UpdateState(ctx context.Context, chatID int64, state entity.ConversationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, exists := r.conversations[chatID]; exists {
		conv.SetState(state)
	}

	return nil
}

// Проверка реализации интерфейса
var _ port.ConversationRepository = (*MemoryConversationRepository)(nil)
