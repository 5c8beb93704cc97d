package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/logging"
)

const (
	buttonAnalyze = "📷 Analyze Photo"
	buttonHelp    = "⚠️ Help"

	msgStart = `👋 Welcome to Crop Doctor!

I am your automated plant pathologist. I can detect diseases and stress in your crops instantly.

Choose an option below:
📷 Analyze Photo: send or upload an image for analysis.
⚠️ Help: learn how to use this bot.`

	msgHelp = `How to use Crop Doctor:

1. Tap 📷 Analyze Photo or just send any image directly.
2. Wait a few seconds while the leaf is processed.
3. You'll receive a diagnosis (disease or healthy) and a confidence score.
4. Expert insights and action advice follow right after.`

	msgAwaitingPhoto  = "📸 Please send a clear photo of the crop leaf.\n\nI will analyze it immediately."
	msgSendPhoto      = "📸 Send me a photo of a crop leaf or tap 📷 Analyze Photo."
	msgUnknownCommand = "❓ Unknown command. Use /help for instructions."
	msgModelOffline   = "⚠️ AI Model is currently offline. Please contact admin."
	msgAnalyzing      = "🔍 Analyzing crop health..."
	msgStillAnalyzing = "⏳ Still analyzing your previous photo, the result will appear in that message."
	msgProgress       = "🔍 Found: %s (%.1f%%)\n🧠 Generating expert insights..."
	msgResult         = "🌿 Analysis Result\nCondition: %s\nConfidence: %.1f%%\n\n🤖 AI Insights:\n%s"
	msgFailure        = "❌ An error occurred while processing the image."
)

const maxPhotoBytes = 20 << 20

// HandleUpdate обрабатывает один апдейт синхронно. Используется и polling, и вебхуком.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	switch {
	case msg.IsCommand():
		return b.handleCommand(ctx, msg, userID)
	case len(msg.Photo) > 0:
		return b.handlePhoto(ctx, msg, userID)
	default:
		return b.handleText(ctx, msg, userID)
	}
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, userID int64) error {
	switch msg.Command() {
	case "start":
		if _, err := b.conversations.Reset(ctx, msg.Chat.ID, userID); err != nil {
			return err
		}
		return b.sendWithMenu(msg.Chat.ID, msgStart)
	case "help":
		return b.sendMessage(msg.Chat.ID, msgHelp)
	default:
		return b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

// handleText обрабатывает кнопки меню
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message, userID int64) error {
	switch menuKey(msg.Text) {
	case menuKey(buttonHelp):
		return b.sendMessage(msg.Chat.ID, msgHelp)
	case menuKey(buttonAnalyze):
		conv, err := b.conversations.Get(ctx, msg.Chat.ID, userID)
		if err != nil {
			return err
		}
		if conv.InFlight() {
			return b.sendMessage(msg.Chat.ID, msgStillAnalyzing)
		}
		if _, err := b.conversations.AwaitPhoto(ctx, msg.Chat.ID, userID); err != nil {
			return err
		}
		return b.sendWithMenu(msg.Chat.ID, msgAwaitingPhoto)
	default:
		return b.sendMessage(msg.Chat.ID, msgSendPhoto)
	}
}

// handlePhoto диагностический сценарий: заглушка, прогресс, итог.
// Любая ошибка после отправки заглушки заканчивается правкой с текстом ошибки.
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message, userID int64) error {
	chatID := msg.Chat.ID
	if !b.diagnosis.Available() {
		reply := tgbotapi.NewMessage(chatID, msgModelOffline)
		reply.ReplyToMessageID = msg.MessageID
		_, err := b.api.Send(reply)
		return err
	}

	release := b.locks.Lock(chatID)
	defer release()

	flowID := uuid.NewString()
	logger := logging.WithOperation(b.logger, "bot.photo", flowID).With(zap.Int64("chat_id", chatID))

	placeholder := tgbotapi.NewMessage(chatID, msgAnalyzing)
	placeholder.ReplyToMessageID = msg.MessageID
	sent, err := b.api.Send(placeholder)
	if err != nil {
		logger.Error("failed to send placeholder", zap.Error(err))
		return fmt.Errorf("send placeholder: %w", err)
	}

	if _, err := b.conversations.BeginAnalysis(ctx, chatID, userID, sent.MessageID); err != nil {
		logger.Warn("failed to record placeholder", zap.Error(err))
	}
	defer func() {
		if _, err := b.conversations.FinishAnalysis(ctx, chatID, userID); err != nil {
			logger.Warn("failed to reset conversation", zap.Error(err))
		}
	}()

	flowErr := b.runDiagnosis(ctx, flowID, chatID, sent.MessageID, msg.Photo, logger)
	if flowErr == nil {
		return nil
	}

	logger.Error("diagnostic flow failed", zap.Error(flowErr))
	if err := b.editMessage(chatID, sent.MessageID, msgFailure); err != nil {
		logger.Error("failed to deliver failure edit", zap.Error(err))
		return errors.Join(flowErr, err)
	}
	return flowErr
}

func (b *Bot) runDiagnosis(ctx context.Context, flowID string, chatID int64, placeholderID int, photos []tgbotapi.PhotoSize, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("diagnostic flow panicked: %v", r)
		}
	}()

	photo, err := largestPhoto(photos)
	if err != nil {
		return err
	}

	data, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		return err
	}
	logger.Debug("photo downloaded", zap.Int("bytes", len(data)), zap.Int("width", photo.Width), zap.Int("height", photo.Height))

	result, err := b.diagnosis.Diagnose(ctx, flowID, data)
	if err != nil {
		return err
	}

	name := entity.DisplayName(result.Label)
	percent := result.Confidence * 100
	if err := b.editMessage(chatID, placeholderID, fmt.Sprintf(msgProgress, name, percent)); err != nil {
		return fmt.Errorf("progress edit: %w", err)
	}

	report := b.advisory.Generate(ctx, entity.AdvisoryRequest{
		Label:      name,
		Confidence: result.Confidence,
		TopProbs:   result.TopStrings(),
	})

	if err := b.editMessage(chatID, placeholderID, fmt.Sprintf(msgResult, name, percent, report)); err != nil {
		return fmt.Errorf("final edit: %w", err)
	}
	return nil
}

// largestPhoto выбирает вариант фото с максимальным разрешением
func largestPhoto(photos []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, error) {
	if len(photos) == 0 {
		return tgbotapi.PhotoSize{}, entity.ErrNoPhoto
	}
	best := photos[0]
	for _, p := range photos[1:] {
		if p.Width*p.Height >= best.Width*best.Height {
			best = p
		}
	}
	return best, nil
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: get file: %v", entity.ErrDownload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrDownload, err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", entity.ErrDownload, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %v", entity.ErrDownload, err)
	}
	return data, nil
}

// menuKey отрезает эмодзи в начале текста кнопки; регистр и остальные символы значимы
func menuKey(text string) string {
	text = strings.TrimLeftFunc(text, isEmojiPrefix)
	return strings.TrimSpace(text)
}

func isEmojiPrefix(r rune) bool {
	switch {
	case unicode.IsSpace(r), unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
		return true
	case r == '\uFE0F', r == '\u200D':
		return true
	}
	return false
}

func mainMenu() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonAnalyze)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonHelp)),
	)
	keyboard.ResizeKeyboard = true
	return keyboard
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) sendWithMenu(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainMenu()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) editMessage(chatID int64, messageID int, text string) error {
	_, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}
