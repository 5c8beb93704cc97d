package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/domain/port"
)

// DefaultMaxPixels предел размера изображения по заголовку (как у PIL)
const DefaultMaxPixels = 89478485

// Preprocessor готовит фото листа для модели на чистом Go
type Preprocessor struct {
	Size          int
	Interpolation resize.InterpolationFunction
	MaxPixels     int
}

// NewPreprocessor создаёт препроцессор 256x256 с бикубической интерполяцией
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		Size:          entity.ImageSize,
		Interpolation: resize.Bicubic,
		MaxPixels:     DefaultMaxPixels,
	}
}

// Preprocess декодирует байты, приводит к RGB, масштабирует и раскладывает в NCHW
func (p *Preprocessor) Preprocess(imageData []byte) (*entity.ImageTensor, error) {
	if err := checkDimensions(imageData, p.MaxPixels); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", entity.ErrDecode)
	}

	rgb := toRGB(img)
	resized := resize.Resize(uint(p.Size), uint(p.Size), rgb, p.Interpolation)

	return toTensor(resized, p.Size), nil
}

// checkDimensions читает только заголовок и отклоняет изображения больше maxPixels,
// до того как декодер выделит память под все пиксели
func checkDimensions(imageData []byte, maxPixels int) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: empty image", entity.ErrDecode)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", entity.ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// toRGB отбрасывает альфа-канал без смешивания с фоном, серые изображения становятся трёхканальными
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return out
}

func toTensor(img image.Image, size int) *entity.ImageTensor {
	tensor := entity.NewImageTensor(size, size)
	plane := size * size
	b := img.Bounds()

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			idx := y*size + x
			tensor.Data[idx] = float32(r>>8) / 255.0
			tensor.Data[plane+idx] = float32(g>>8) / 255.0
			tensor.Data[2*plane+idx] = float32(bl>>8) / 255.0
		}
	}
	return tensor
}

// Проверка реализации интерфейса
var _ port.ImagePreprocessor = (*Preprocessor)(nil)
