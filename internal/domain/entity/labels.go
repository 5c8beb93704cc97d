package entity

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// UnknownLabel возвращается для индексов за пределами таблицы
const UnknownLabel = "Unknown"

// DefaultLabelsVersion версия встроенной таблицы классов.
// Порядок классов является контрактом с выходом модели: перестановка без смены версии ломает протокол.
const DefaultLabelsVersion = "plantvillage-38-v1"

var defaultLabels = []string{
	"Apple___Apple_scab", "Apple___Black_rot", "Apple___Cedar_apple_rust", "Apple___healthy",
	"Blueberry___healthy", "Cherry_(including_sour)___Powdery_mildew",
	"Cherry_(including_sour)___healthy", "Corn_(maize)___Cercospora_leaf_spot Gray_leaf_spot",
	"Corn_(maize)___Common_rust_", "Corn_(maize)___Northern_Leaf_Blight", "Corn_(maize)___healthy",
	"Grape___Black_rot", "Grape___Esca_(Black_Measles)", "Grape___Leaf_blight_(Isariopsis_Leaf_Spot)",
	"Grape___healthy", "Orange___Haunglongbing_(Citrus_greening)", "Peach___Bacterial_spot",
	"Peach___healthy", "Pepper,_bell___Bacterial_spot", "Pepper,_bell___healthy",
	"Potato___Early_blight", "Potato___Late_blight", "Potato___healthy", "Raspberry___healthy",
	"Soybean___healthy", "Squash___Powdery_mildew", "Strawberry___Leaf_scorch", "Strawberry___healthy",
	"Tomato___Bacterial_spot", "Tomato___Early_blight", "Tomato___Late_blight", "Tomato___Leaf_Mold",
	"Tomato___Septoria_leaf_spot", "Tomato___Spider_mites Two-spotted_spider_mite",
	"Tomato___Target_Spot", "Tomato___Tomato_Yellow_Leaf_Curl_Virus", "Tomato___Tomato_mosaic_virus",
	"Tomato___healthy",
}

// LabelTable упорядоченная таблица классов модели
type LabelTable struct {
	Version string   `json:"version"`
	Classes []string `json:"classes"`
}

// DefaultLabelTable возвращает копию встроенной таблицы из 38 классов
func DefaultLabelTable() *LabelTable {
	return &LabelTable{
		Version: DefaultLabelsVersion,
		Classes: append([]string(nil), defaultLabels...),
	}
}

// LoadLabelTable читает таблицу классов из JSON-файла рядом с моделью
func LoadLabelTable(path string) (*LabelTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	var table LabelTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parse labels: %w", err)
	}
	if len(table.Classes) == 0 {
		return nil, fmt.Errorf("labels file %s has no classes", path)
	}
	if table.Version == "" {
		table.Version = "unversioned"
	}
	return &table, nil
}

// Len количество классов
func (t *LabelTable) Len() int {
	return len(t.Classes)
}

// Lookup возвращает имя класса по индексу или "Unknown"
func (t *LabelTable) Lookup(index int) string {
	if index < 0 || index >= len(t.Classes) {
		return UnknownLabel
	}
	return t.Classes[index]
}

// Validate сверяет ширину выхода модели с длиной таблицы
func (t *LabelTable) Validate(outputWidth int) error {
	if outputWidth != len(t.Classes) {
		return fmt.Errorf("%w: model outputs %d classes, table %s has %d",
			ErrLabelMismatch, outputWidth, t.Version, len(t.Classes))
	}
	return nil
}

// DisplayName делает имя класса читаемым: подчёркивания заменяются пробелами
func DisplayName(label string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(label, "_", " ")), " ")
}
