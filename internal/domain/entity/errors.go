package entity

import "errors"

// Виды ошибок конвейера диагностики. Транспортный слой переводит их в статусы.
var (
	ErrDecode           = errors.New("image could not be decoded")
	ErrModelUnavailable = errors.New("model not loaded")
	ErrInference        = errors.New("inference failed")
	ErrInvalidLogits    = errors.New("invalid logits")
	ErrLabelMismatch    = errors.New("label table does not match model output")
	ErrNoPhoto          = errors.New("message has no photo")
	ErrDownload         = errors.New("photo download failed")
	ErrIngressConflict  = errors.New("another ingress is active for this bot")
)
