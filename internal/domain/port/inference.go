package port

import (
	"context"

	"crop-doctor/internal/domain/entity"
)

// InferenceEngine интерфейс загруженной модели
type InferenceEngine interface {
	// Available сообщает, загружена ли модель
	Available() bool

	// Run выполняет модель и возвращает логиты.
	// Без загруженной модели сразу возвращает entity.ErrModelUnavailable.
	Run(ctx context.Context, tensor *entity.ImageTensor) ([]float32, error)
}
