package app

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"crop-doctor/internal/domain/entity"
)

// Softmax численно устойчивый softmax: перед экспонентой вычитается максимум
func Softmax(logits []float32) ([]float64, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("%w: empty output", entity.ErrInvalidLogits)
	}

	probs := make([]float64, len(logits))
	for i, v := range logits {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite value at index %d", entity.ErrInvalidLogits, i)
		}
		probs[i] = f
	}

	floats.AddConst(-floats.Max(probs), probs)
	for i, v := range probs {
		probs[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs, nil
}

// TopK возвращает k индексов с наибольшей вероятностью по убыванию.
// При равных вероятностях выигрывает меньший индекс.
func TopK(probs []float64, k int) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}

// Postprocess превращает логиты в результат классификации
func Postprocess(logits []float32, labels *entity.LabelTable, k int) (*entity.Classification, error) {
	probs, err := Softmax(logits)
	if err != nil {
		return nil, err
	}

	// MaxIdx возвращает первый максимум, что совпадает с порядком TopK
	primary := floats.MaxIdx(probs)

	all := make(map[string]float64, len(probs))
	for i, p := range probs {
		all[labels.Lookup(i)] = p
	}

	top := make([]entity.Prediction, 0, k)
	for _, i := range TopK(probs, k) {
		top = append(top, entity.Prediction{Index: i, Label: labels.Lookup(i), Confidence: probs[i]})
	}

	return &entity.Classification{
		Label:         labels.Lookup(primary),
		Index:         primary,
		Confidence:    probs[primary],
		Probabilities: probs,
		AllProbs:      all,
		Top:           top,
	}, nil
}
