//go:build gocv
// +build gocv

package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
)

// GoCVPreprocessor готовит изображение средствами OpenCV
type GoCVPreprocessor struct {
	Size          int
	Interpolation gocv.InterpolationFlags
	MaxPixels     int
}

// NewGoCVPreprocessor создаёт препроцессор на OpenCV
func NewGoCVPreprocessor() *GoCVPreprocessor {
	return &GoCVPreprocessor{
		Size:          entity.ImageSize,
		Interpolation: gocv.InterpolationCubic,
		MaxPixels:     DefaultMaxPixels,
	}
}

// Preprocess декодирует байты в BGR, масштабирует, переводит в RGB и раскладывает в NCHW
func (p *GoCVPreprocessor) Preprocess(imageData []byte) (*entity.ImageTensor, error) {
	if err := checkDimensions(imageData, p.MaxPixels); err != nil {
		return nil, err
	}

	mat, err := decodeToMat(imageData)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(p.Size, p.Size), 0, 0, p.Interpolation)

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)

	pixels, err := rgb.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("read pixels: %w", err)
	}

	tensor := entity.NewImageTensor(p.Size, p.Size)
	plane := p.Size * p.Size
	for i := 0; i < plane; i++ {
		tensor.Data[i] = float32(pixels[i*3]) / 255.0
		tensor.Data[plane+i] = float32(pixels[i*3+1]) / 255.0
		tensor.Data[2*plane+i] = float32(pixels[i*3+2]) / 255.0
	}
	return tensor, nil
}

// decodeToMat превращает байты изображения в трёхканальный gocv.Mat.
// IMReadColor приводит серые и RGBA-изображения к BGR.
func decodeToMat(imageData []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(imageData, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	if !mat.Empty() {
		mat.Close()
	}
	if err == nil {
		err = errors.New("empty image")
	}
	return gocv.NewMat(), fmt.Errorf("%w: %v", entity.ErrDecode, err)
}

var _ port.ImagePreprocessor = (*GoCVPreprocessor)(nil)
