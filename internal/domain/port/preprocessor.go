package port

import "crop-doctor/internal/domain/entity"

// ImagePreprocessor превращает байты изображения в нормализованный тензор
type ImagePreprocessor interface {
	// Preprocess декодирует, приводит к RGB 256x256 и раскладывает по каналам.
	// Возвращает entity.ErrDecode, если байты не являются изображением.
	Preprocess(imageData []byte) (*entity.ImageTensor, error)
}
