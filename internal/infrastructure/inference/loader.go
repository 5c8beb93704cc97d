package inference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
)

// LoadFunc загружает движок; подменяется в тестах
type LoadFunc func() *Engine

// Loader владеет единственной сессией процесса.
// Загрузка выполняется ровно один раз; до её завершения модель считается недоступной.
type Loader struct {
	load   LoadFunc
	once   sync.Once
	engine atomic.Pointer[Engine]
	done   chan struct{}
}

// NewLoader создаёт загрузчик ONNX-модели
func NewLoader(cfg Config, labels *entity.LabelTable, logger *zap.Logger) *Loader {
	return NewLoaderFunc(func() *Engine {
		return Load(cfg, labels, logger)
	})
}

// NewLoaderFunc создаёт загрузчик с произвольной функцией загрузки
func NewLoaderFunc(load LoadFunc) *Loader {
	return &Loader{load: load, done: make(chan struct{})}
}

// Load загружает модель один раз и возвращает результат (готовый или недоступный движок)
func (l *Loader) Load() *Engine {
	l.once.Do(func() {
		engine := l.load()
		if engine == nil {
			engine = Unavailable(nil)
		}
		l.engine.Store(engine)
		close(l.done)
	})
	return l.engine.Load()
}

// Done закрывается после попытки загрузки
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// Available true только после успешной загрузки
func (l *Loader) Available() bool {
	return l.engine.Load().Available()
}

// Run делегирует загруженному движку; пока загрузка не завершена, модель недоступна
func (l *Loader) Run(ctx context.Context, tensor *entity.ImageTensor) ([]float32, error) {
	engine := l.engine.Load()
	if engine == nil {
		return nil, fmt.Errorf("%w: model is still loading", entity.ErrModelUnavailable)
	}
	return engine.Run(ctx, tensor)
}

// Close освобождает сессию, если она была загружена
func (l *Loader) Close() {
	l.engine.Load().Close()
}

var _ port.InferenceEngine = (*Loader)(nil)
var _ port.InferenceEngine = (*Engine)(nil)
