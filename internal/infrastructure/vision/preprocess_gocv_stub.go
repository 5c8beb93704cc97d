//go:build !gocv
// +build !gocv

package vision

import (
	"errors"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
)

// ErrGoCVDisabled возвращается, если бинарь собран без тега gocv
var ErrGoCVDisabled = errors.New("gocv build tag is not enabled")

// GoCVPreprocessor заглушка (без OpenCV)
type GoCVPreprocessor struct {
	Size int
}

// NewGoCVPreprocessor создаёт препроцессор-заглушку
func NewGoCVPreprocessor() *GoCVPreprocessor {
	return &GoCVPreprocessor{Size: entity.ImageSize}
}

// Preprocess возвращает ошибку, если сборка без тега gocv
func (p *GoCVPreprocessor) Preprocess(imageData []byte) (*entity.ImageTensor, error) {
	_ = imageData
	return nil, ErrGoCVDisabled
}

var _ port.ImagePreprocessor = (*GoCVPreprocessor)(nil)
