package inference

import (
	"context"
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"crop-doctor/internal/domain/entity"
)

// Config параметры загрузки модели
type Config struct {
	CandidatePaths []string // упорядоченный список путей, первый существующий выигрывает
	LibraryPath    string   // путь к libonnxruntime, пустой = системный
	Threads        int      // intra-op потоки, 0 = по умолчанию
}

// sessionRunner часть ort.DynamicAdvancedSession, нужная движку
type sessionRunner interface {
	Run(inputs, outputs []ort.ArbitraryTensor) error
	Destroy() error
}

var _ sessionRunner = (*ort.DynamicAdvancedSession)(nil)

// Engine загруженная ONNX-сессия либо явное состояние "недоступна".
// Сессия неизменяема после загрузки, Run можно вызывать конкурентно.
type Engine struct {
	session    sessionRunner
	inputName  string
	outputName string
	numClasses int
	modelPath  string
	loadErr    error
}

// Unavailable создаёт движок без модели; каждый Run вернёт ErrModelUnavailable
func Unavailable(reason error) *Engine {
	if reason == nil {
		reason = errors.New("model was not loaded")
	}
	return &Engine{loadErr: reason}
}

// Load ищет модель, поднимает окружение ONNX Runtime и создаёт сессию.
// Никогда не возвращает nil: при любой ошибке получается недоступный движок.
func Load(cfg Config, labels *entity.LabelTable, logger *zap.Logger) *Engine {
	path, err := ResolveModelPath(cfg.CandidatePaths)
	if err != nil {
		logger.Error("model artifact not found", zap.Strings("candidates", cfg.CandidatePaths), zap.Error(err))
		return Unavailable(err)
	}

	engine, err := newEngine(path, cfg, labels)
	if err != nil {
		logger.Error("failed to load model", zap.String("path", path), zap.Error(err))
		return Unavailable(err)
	}

	logger.Info("ONNX model loaded",
		zap.String("path", engine.ModelPath()),
		zap.String("input", engine.inputName),
		zap.String("output", engine.outputName),
		zap.Int("classes", engine.numClasses),
		zap.String("labels_version", labels.Version),
	)
	return engine
}

// ResolveModelPath возвращает первый существующий файл из списка кандидатов
func ResolveModelPath(candidates []string) (string, error) {
	for _, p := range candidates {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("no model file among %d candidate paths", len(candidates))
}

func newEngine(path string, cfg Config, labels *entity.LabelTable) (*Engine, error) {
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read model io info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.New("model has no inputs or outputs")
	}

	dims := outputs[0].Dimensions
	if len(dims) == 0 {
		return nil, errors.New("model output has no dimensions")
	}
	width := int(dims[len(dims)-1])
	if err := labels.Validate(width); err != nil {
		return nil, err
	}

	var opts *ort.SessionOptions
	if cfg.Threads > 0 {
		opts, err = ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("create session options: %w", err)
		}
		defer opts.Destroy()
		if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Engine{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		numClasses: width,
		modelPath:  path,
	}, nil
}

func initEnvironment(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// Available true, если сессия загружена
func (e *Engine) Available() bool {
	return e != nil && e.session != nil
}

// Err причина недоступности
func (e *Engine) Err() error {
	if e == nil {
		return errors.New("engine is nil")
	}
	return e.loadErr
}

// ModelPath путь загруженной модели, пустой для недоступного движка
func (e *Engine) ModelPath() string {
	if e == nil {
		return ""
	}
	return e.modelPath
}

// Run выполняет модель на тензоре и возвращает логиты
func (e *Engine) Run(ctx context.Context, tensor *entity.ImageTensor) ([]float32, error) {
	if !e.Available() {
		return nil, fmt.Errorf("%w: %v", entity.ErrModelUnavailable, e.Err())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Тензоры создаются на каждый вызов: общая только сессия
	input, err := ort.NewTensor(ort.NewShape(tensor.Shape[:]...), tensor.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: create input tensor: %v", entity.ErrInference, err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(tensor.Shape[0], int64(e.numClasses)))
	if err != nil {
		return nil, fmt.Errorf("%w: create output tensor: %v", entity.ErrInference, err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInference, err)
	}

	logits := make([]float32, e.numClasses)
	copy(logits, output.GetData())
	return logits, nil
}

// Close освобождает сессию и окружение
func (e *Engine) Close() {
	if e == nil || e.session == nil {
		return
	}
	_ = e.session.Destroy()
	e.session = nil
	ort.DestroyEnvironment()
}
