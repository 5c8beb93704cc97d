package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
	"crop-doctor/internal/logging"
)

// DiagnosisService конвейер: байты -> тензор -> логиты -> классификация
type DiagnosisService struct {
	preprocessor port.ImagePreprocessor
	engine       port.InferenceEngine
	labels       *entity.LabelTable
	logger       *zap.Logger
}

// NewDiagnosisService создаёт сервис диагностики
func NewDiagnosisService(preprocessor port.ImagePreprocessor, engine port.InferenceEngine, labels *entity.LabelTable, logger *zap.Logger) *DiagnosisService {
	return &DiagnosisService{
		preprocessor: preprocessor,
		engine:       engine,
		labels:       labels,
		logger:       logger.Named("diagnosis"),
	}
}

// Available сообщает, загружена ли модель
func (s *DiagnosisService) Available() bool {
	return s.engine != nil && s.engine.Available()
}

// Labels таблица классов, с которой работает сервис
func (s *DiagnosisService) Labels() *entity.LabelTable {
	return s.labels
}

// Diagnose классифицирует изображение. requestID попадает в ошибки и логи.
// Ошибка всегда *logging.OperationError с видом из entity.
func (s *DiagnosisService) Diagnose(ctx context.Context, requestID string, imageData []byte) (*entity.Classification, error) {
	if !s.Available() {
		return nil, logging.Wrap("diagnosis.model", requestID, entity.ErrModelUnavailable)
	}

	tensor, err := s.preprocessor.Preprocess(imageData)
	if err != nil {
		opErr := logging.Wrap("diagnosis.preprocess", requestID, err)
		s.logger.Warn("preprocessing failed", append(opErr.Fields(), zap.Int("bytes", len(imageData)))...)
		return nil, opErr
	}

	logits, err := s.engine.Run(ctx, tensor)
	if err != nil {
		if !errors.Is(err, entity.ErrModelUnavailable) && !errors.Is(err, entity.ErrInference) {
			err = errors.Join(entity.ErrInference, err)
		}
		opErr := logging.Wrap("diagnosis.inference", requestID, err)
		s.logger.Error("inference failed", opErr.Fields()...)
		return nil, opErr
	}

	result, err := Postprocess(logits, s.labels, entity.TopK)
	if err != nil {
		opErr := logging.Wrap("diagnosis.postprocess", requestID, err)
		s.logger.Error("postprocessing failed", opErr.Fields()...)
		return nil, opErr
	}

	logging.WithOperation(s.logger, "diagnosis.diagnose", requestID).Info("image classified",
		zap.String("class", result.Label),
		zap.Float64("confidence", result.Confidence),
	)
	return result, nil
}
