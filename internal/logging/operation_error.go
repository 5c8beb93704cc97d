package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"crop-doctor/internal/domain/entity"
)

// kinds порядок важен: недоступность модели проверяется раньше общей ошибки инференса
var kinds = []error{
	entity.ErrModelUnavailable,
	entity.ErrDecode,
	entity.ErrInvalidLogits,
	entity.ErrLabelMismatch,
	entity.ErrInference,
	entity.ErrNoPhoto,
	entity.ErrDownload,
	entity.ErrIngressConflict,
}

// KindOf возвращает вид ошибки из entity или nil, если вид не распознан
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) && opErr.Kind != nil {
		return opErr.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// OperationError ошибка стадии конвейера с видом, по которому транспорт выбирает ответ
type OperationError struct {
	Stage     string
	RequestID string
	Kind      error
	Err       error
}

// Wrap оборачивает err стадией и видом; err не должен быть nil
func Wrap(stage, requestID string, err error) *OperationError {
	return &OperationError{Stage: stage, RequestID: requestID, Kind: KindOf(err), Err: err}
}

// NewOperationError как Wrap, но nil остаётся nil
func NewOperationError(stage, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return Wrap(stage, requestID, err)
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Stage, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields поля для структурированного лога
func (e *OperationError) Fields() []zap.Field {
	fields := []zap.Field{zap.String("stage", e.Stage), zap.Error(e.Err)}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.Kind != nil {
		fields = append(fields, zap.String("kind", e.Kind.Error()))
	}
	return fields
}
