package entity

import "fmt"

const (
	ImageSize = 256
	Channels  = 3
	TopK      = 3
)

// ImageTensor нормализованное изображение в раскладке NCHW
type ImageTensor struct {
	Shape [4]int64  // batch, channels, height, width
	Data  []float32 // значения в [0,1]
}

// NewImageTensor выделяет тензор 1x3xHxW
func NewImageTensor(height, width int) *ImageTensor {
	return &ImageTensor{
		Shape: [4]int64{1, Channels, int64(height), int64(width)},
		Data:  make([]float32, Channels*height*width),
	}
}

// Prediction один класс с вероятностью
type Prediction struct {
	Index      int     `json:"index"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// String форматирует предсказание как "Tomato Early blight (93.1%)"
func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.1f%%)", DisplayName(p.Label), p.Confidence*100)
}

// Classification результат классификации
type Classification struct {
	Label         string             // основной класс
	Index         int                // индекс основного класса
	Confidence    float64            // вероятность основного класса
	Probabilities []float64          // распределение в порядке выхода модели
	AllProbs      map[string]float64 // label -> вероятность
	Top           []Prediction       // top-k по убыванию
}

// TopStrings возвращает top-k в виде строк для подсказки LLM
func (c *Classification) TopStrings() []string {
	out := make([]string, 0, len(c.Top))
	for _, p := range c.Top {
		out = append(out, p.String())
	}
	return out
}

// AdvisoryRequest входные данные генератора рекомендаций
type AdvisoryRequest struct {
	Label      string
	Confidence float64
	TopProbs   []string
}
