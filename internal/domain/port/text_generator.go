package port

import "context"

// TextGenerator внешний сервис генерации текста
type TextGenerator interface {
	// Generate отправляет подсказку и возвращает сгенерированный текст
	Generate(ctx context.Context, prompt string) (string, error)
}
