package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"crop-doctor/config"
	app "crop-doctor/internal/application"
	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/infrastructure/storage"
)

const pollTimeout = 60

// API часть tgbotapi.BotAPI, которой пользуется бот
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Options параметры бота
type Options struct {
	Ingress    config.Ingress
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Bot представляет Telegram-бота
type Bot struct {
	api           API
	diagnosis     *app.DiagnosisService
	advisory      *app.AdvisoryService
	conversations *app.ConversationService
	locks         *storage.ChatLocks
	httpClient    *http.Client
	logger        *zap.Logger

	ingress    config.Ingress
	retryDelay time.Duration
	offset     int

	inflight sync.WaitGroup
}

// NewBotAPI авторизуется в Telegram
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

// NewBot создаёт нового бота
func NewBot(api API, diagnosis *app.DiagnosisService, advisory *app.AdvisoryService, conversations *app.ConversationService, logger *zap.Logger, opts Options) *Bot {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Ingress == "" {
		opts.Ingress = config.IngressPolling
	}

	return &Bot{
		api:           api,
		diagnosis:     diagnosis,
		advisory:      advisory,
		conversations: conversations,
		locks:         storage.NewChatLocks(),
		httpClient:    opts.HTTPClient,
		logger:        logger.Named("telegram"),
		ingress:       opts.Ingress,
		retryDelay:    opts.RetryDelay,
	}
}

// Ingress способ получения апдейтов, с которым запущен бот
func (b *Bot) Ingress() config.Ingress {
	return b.ingress
}

// Run запускает long polling и перезапускает его после любой ошибки
// через фиксированную паузу, без ограничения числа попыток.
// Возвращает nil после отмены ctx, дождавшись начатых диагностик.
func (b *Bot) Run(ctx context.Context) error {
	if b.ingress != config.IngressPolling {
		return fmt.Errorf("%w: bot is configured for %s ingress", entity.ErrIngressConflict, b.ingress)
	}
	defer b.inflight.Wait()

	policy := backoff.WithContext(backoff.NewConstantBackOff(b.retryDelay), ctx)
	notify := func(err error, wait time.Duration) {
		b.logger.Error("polling failed, restarting", zap.Error(err), zap.Duration("retry_in", wait))
	}

	b.logger.Info("polling started")
	err := backoff.RetryNotify(func() error { return b.poll(ctx) }, policy, notify)
	if ctx.Err() != nil {
		b.logger.Info("polling stopped")
		return nil
	}
	return err
}

// poll один сеанс опроса; ошибка означает, что сеанс нужно перезапустить
func (b *Bot) poll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("polling panicked: %v", r)
		}
	}()

	// Вебхук и polling не могут работать одновременно
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		cfg := tgbotapi.NewUpdate(b.offset)
		cfg.Timeout = pollTimeout
		updates, err := b.api.GetUpdates(cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("get updates: %w", err)
		}

		for _, update := range updates {
			if update.UpdateID >= b.offset {
				b.offset = update.UpdateID + 1
			}
			b.dispatch(ctx, update)
		}
	}
}

// dispatch обрабатывает апдейт в отдельной горутине.
// Начатая диагностика доводится до конца даже после отмены ctx.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("update handler panicked", zap.Int("update_id", update.UpdateID), zap.Any("panic", r))
			}
		}()

		if err := b.HandleUpdate(context.WithoutCancel(ctx), update); err != nil {
			b.logger.Warn("update handled with error", zap.Int("update_id", update.UpdateID), zap.Error(err))
		}
	}()
}

// SetWebhook регистрирует адрес вебхука в Telegram.
// Запрещено, пока бот получает апдейты через polling.
func (b *Bot) SetWebhook(url string) error {
	if b.ingress == config.IngressPolling {
		return fmt.Errorf("%w: polling is active, webhook registration refused", entity.ErrIngressConflict)
	}
	if url == "" {
		return errors.New("webhook url is empty")
	}

	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	b.logger.Info("webhook registered", zap.String("url", url))
	return nil
}
