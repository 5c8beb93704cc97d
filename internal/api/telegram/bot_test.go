package telegram

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"crop-doctor/config"
	app "crop-doctor/internal/application"
	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/infrastructure/storage"
	"crop-doctor/internal/infrastructure/vision"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
	fileBase string

	updates   [][]tgbotapi.Update
	updateErr []error
	polls     int

	// failEdit номер правки (с единицы), которую Telegram отклонит
	failEdit  int
	editCount int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	if _, ok := c.(tgbotapi.EditMessageTextConfig); ok {
		f.editCount++
		if f.editCount == f.failEdit {
			return tgbotapi.Message{}, errors.New("Bad Request: message to edit not found")
		}
	}
	f.nextID++
	return tgbotapi.Message{MessageID: 100 + f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.mu.Lock()
	call := f.polls
	f.polls++
	var (
		batch []tgbotapi.Update
		err   error
	)
	if call < len(f.updateErr) {
		err = f.updateErr[call]
	}
	if call < len(f.updates) {
		batch = f.updates[call]
	}
	f.mu.Unlock()

	if err == nil && batch == nil {
		time.Sleep(5 * time.Millisecond)
	}
	return batch, err
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return f.fileBase + "/" + fileID, nil
}

func (f *fakeAPI) sentCopy() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.sent...)
}

func (f *fakeAPI) edits() []tgbotapi.EditMessageTextConfig {
	var out []tgbotapi.EditMessageTextConfig
	for _, c := range f.sentCopy() {
		if edit, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, edit)
		}
	}
	return out
}

type stubEngine struct {
	available bool
}

func (s stubEngine) Available() bool { return s.available }

func (s stubEngine) Run(ctx context.Context, tensor *entity.ImageTensor) ([]float32, error) {
	logits := make([]float32, 38)
	logits[37] = 12
	return logits, nil
}

type stubGenerator struct {
	err error
}

func (s stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "Keep watering at the base.", nil
}

func leafServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{G: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/big" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestBot(t *testing.T, api *fakeAPI, modelLoaded bool, logger *zap.Logger, ingress config.Ingress) *Bot {
	t.Helper()
	return newTestBotWithGenerator(t, api, modelLoaded, stubGenerator{}, logger, ingress)
}

func newTestBotWithGenerator(t *testing.T, api *fakeAPI, modelLoaded bool, generator stubGenerator, logger *zap.Logger, ingress config.Ingress) *Bot {
	t.Helper()
	diagnosis := app.NewDiagnosisService(vision.NewPreprocessor(), stubEngine{available: modelLoaded},
		entity.DefaultLabelTable(), logger)
	advisory := app.NewAdvisoryService(generator, nil, 0, logger)
	conversations := app.NewConversationService(storage.NewMemoryConversationRepository())
	return NewBot(api, diagnosis, advisory, conversations, logger, Options{
		Ingress:    ingress,
		RetryDelay: 10 * time.Millisecond,
	})
}

func photoUpdate(chatID int64, fileID string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 5,
			Chat:      &tgbotapi.Chat{ID: chatID},
			From:      &tgbotapi.User{ID: 1},
			Photo: []tgbotapi.PhotoSize{
				{FileID: "small", Width: 90, Height: 90},
				{FileID: fileID, Width: 800, Height: 600},
				{FileID: "medium", Width: 320, Height: 240},
			},
		},
	}
}

func commandUpdate(chatID int64, command string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		Message: &tgbotapi.Message{
			MessageID: 6,
			Chat:      &tgbotapi.Chat{ID: chatID},
			From:      &tgbotapi.User{ID: 1},
			Text:      command,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}},
		},
	}
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 3,
		Message:  &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: chatID}, Text: text},
	}
}

func TestHandlePhoto_TwoEditsOnPlaceholder(t *testing.T) {
	api := &fakeAPI{fileBase: leafServer(t).URL}
	bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

	require.NoError(t, bot.HandleUpdate(context.Background(), photoUpdate(10, "big")))

	sent := api.sentCopy()
	require.Len(t, sent, 3)
	placeholder, ok := sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	require.Equal(t, msgAnalyzing, placeholder.Text)
	require.Equal(t, 5, placeholder.ReplyToMessageID)

	edits := api.edits()
	require.Len(t, edits, 2)
	for _, e := range edits {
		require.Equal(t, 101, e.MessageID)
		require.Equal(t, int64(10), e.ChatID)
	}
	require.Contains(t, edits[0].Text, "Found: Tomato healthy")
	require.Contains(t, edits[0].Text, "Generating expert insights")
	require.Contains(t, edits[1].Text, "Condition: Tomato healthy")
	require.Contains(t, edits[1].Text, "Keep watering at the base.")

	conv, err := bot.conversations.Get(context.Background(), 10, 1)
	require.NoError(t, err)
	require.False(t, conv.InFlight())
}

func TestHandlePhoto_FailureEdit(t *testing.T) {
	api := &fakeAPI{fileBase: leafServer(t).URL}
	bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

	err := bot.HandleUpdate(context.Background(), photoUpdate(10, "missing"))
	require.ErrorIs(t, err, entity.ErrDownload)

	edits := api.edits()
	require.Len(t, edits, 1)
	require.Equal(t, msgFailure, edits[0].Text)
	require.Equal(t, 101, edits[0].MessageID)
}

func TestHandlePhoto_AdvisoryFailureStillFinishes(t *testing.T) {
	api := &fakeAPI{fileBase: leafServer(t).URL}
	bot := newTestBotWithGenerator(t, api, true, stubGenerator{err: errors.New("upstream 503")},
		zap.NewNop(), config.IngressWebhook)

	require.NoError(t, bot.HandleUpdate(context.Background(), photoUpdate(10, "big")))

	edits := api.edits()
	require.Len(t, edits, 2)
	require.Contains(t, edits[1].Text, "Condition: Tomato healthy")
	require.Contains(t, edits[1].Text, app.FallbackReport)
	require.NotEqual(t, msgFailure, edits[1].Text)
}

func TestHandlePhoto_EditFailureEndsWithFailureMessage(t *testing.T) {
	cases := []struct {
		name      string
		failEdit  int
		wantEdits int
		wantErr   string
	}{
		{name: "progress edit rejected", failEdit: 1, wantEdits: 2, wantErr: "progress edit"},
		{name: "final edit rejected", failEdit: 2, wantEdits: 3, wantErr: "final edit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{fileBase: leafServer(t).URL, failEdit: tc.failEdit}
			bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

			err := bot.HandleUpdate(context.Background(), photoUpdate(10, "big"))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)

			edits := api.edits()
			require.Len(t, edits, tc.wantEdits)
			last := edits[len(edits)-1]
			require.Equal(t, msgFailure, last.Text)
			require.Equal(t, 101, last.MessageID)

			conv, err := bot.conversations.Get(context.Background(), 10, 1)
			require.NoError(t, err)
			require.False(t, conv.InFlight())
		})
	}
}

func TestHandleText_AnalyzeWhileInFlight(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)
	ctx := context.Background()

	_, err := bot.conversations.BeginAnalysis(ctx, 10, 1, 101)
	require.NoError(t, err)

	update := textUpdate(10, buttonAnalyze)
	update.Message.From = &tgbotapi.User{ID: 1}
	require.NoError(t, bot.HandleUpdate(ctx, update))

	sent := api.sentCopy()
	require.Len(t, sent, 1)
	require.Equal(t, msgStillAnalyzing, sent[0].(tgbotapi.MessageConfig).Text)

	conv, err := bot.conversations.Get(ctx, 10, 1)
	require.NoError(t, err)
	require.True(t, conv.InFlight())
	require.Equal(t, 101, conv.PlaceholderID)
}

func TestHandlePhoto_ModelOffline(t *testing.T) {
	api := &fakeAPI{fileBase: leafServer(t).URL}
	bot := newTestBot(t, api, false, zap.NewNop(), config.IngressWebhook)

	require.NoError(t, bot.HandleUpdate(context.Background(), photoUpdate(10, "big")))

	sent := api.sentCopy()
	require.Len(t, sent, 1)
	require.Equal(t, msgModelOffline, sent[0].(tgbotapi.MessageConfig).Text)
	require.Empty(t, api.edits())
}

func TestHandlePhoto_SameChatDoesNotInterleave(t *testing.T) {
	api := &fakeAPI{fileBase: leafServer(t).URL}
	bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, bot.HandleUpdate(context.Background(), photoUpdate(10, "big")))
		}()
	}
	wg.Wait()

	sent := api.sentCopy()
	require.Len(t, sent, 9)
	for i := 0; i < len(sent); i += 3 {
		_, ok := sent[i].(tgbotapi.MessageConfig)
		require.True(t, ok, "flow must start with a placeholder")
		placeholderID := 100 + i + 1
		require.Equal(t, placeholderID, sent[i+1].(tgbotapi.EditMessageTextConfig).MessageID)
		require.Equal(t, placeholderID, sent[i+2].(tgbotapi.EditMessageTextConfig).MessageID)
	}
}

func TestHandleCommand_StartSendsMenu(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

	require.NoError(t, bot.HandleUpdate(context.Background(), commandUpdate(10, "/start")))

	sent := api.sentCopy()
	require.Len(t, sent, 1)
	msg := sent[0].(tgbotapi.MessageConfig)
	require.Equal(t, msgStart, msg.Text)
	keyboard, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.Equal(t, buttonAnalyze, keyboard.Keyboard[0][0].Text)
	require.Equal(t, buttonHelp, keyboard.Keyboard[1][0].Text)
}

func TestHandleText_MenuButtons(t *testing.T) {
	cases := map[string]string{
		"⚠️ Help":         msgHelp,
		"Help":            msgHelp,
		"📷 Analyze Photo": msgAwaitingPhoto,
		"Analyze Photo":   msgAwaitingPhoto,
		"hello":           msgSendPhoto,
		"HELP":            msgSendPhoto,
		"!!Help":          msgSendPhoto,
		"analyze photo":   msgSendPhoto,
	}
	for text, want := range cases {
		t.Run(text, func(t *testing.T) {
			api := &fakeAPI{}
			bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

			require.NoError(t, bot.HandleUpdate(context.Background(), textUpdate(10, text)))
			sent := api.sentCopy()
			require.Len(t, sent, 1)
			require.Equal(t, want, sent[0].(tgbotapi.MessageConfig).Text)
		})
	}
}

func TestHandleCommand_Unknown(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

	require.NoError(t, bot.HandleUpdate(context.Background(), commandUpdate(10, "/weather")))
	require.Equal(t, msgUnknownCommand, api.sentCopy()[0].(tgbotapi.MessageConfig).Text)
}

func TestHandleUpdate_IgnoresNonMessages(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

	require.NoError(t, bot.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: 9}))
	require.Empty(t, api.sentCopy())
}

func TestRun_RecoversAfterTransportFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	api := &fakeAPI{
		updateErr: []error{errors.New("connection reset by peer")},
		updates:   [][]tgbotapi.Update{nil, {commandUpdate(10, "/help")}},
	}
	bot := newTestBot(t, api, true, zap.New(core), config.IngressPolling)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	require.Eventually(t, func() bool { return len(api.sentCopy()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, msgHelp, api.sentCopy()[0].(tgbotapi.MessageConfig).Text)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("polling did not stop after cancel")
	}

	require.Equal(t, 1, logs.FilterMessage("polling failed, restarting").Len())
	api.mu.Lock()
	defer api.mu.Unlock()
	require.GreaterOrEqual(t, len(api.requests), 2)
	for _, r := range api.requests {
		_, ok := r.(tgbotapi.DeleteWebhookConfig)
		require.True(t, ok)
	}
	require.Equal(t, 3, bot.offset)
}

func TestRun_RefusedForWebhookIngress(t *testing.T) {
	bot := newTestBot(t, &fakeAPI{}, true, zap.NewNop(), config.IngressWebhook)
	require.ErrorIs(t, bot.Run(context.Background()), entity.ErrIngressConflict)
}

func TestSetWebhook(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(t, api, true, zap.NewNop(), config.IngressWebhook)

	require.NoError(t, bot.SetWebhook("https://example.com/api/webhook/telegram"))
	require.Len(t, api.requests, 1)
	wh, ok := api.requests[0].(tgbotapi.WebhookConfig)
	require.True(t, ok)
	require.True(t, strings.HasSuffix(wh.URL.String(), "/api/webhook/telegram"))

	require.Error(t, bot.SetWebhook(""))

	polling := newTestBot(t, &fakeAPI{}, true, zap.NewNop(), config.IngressPolling)
	require.ErrorIs(t, polling.SetWebhook("https://example.com/hook"), entity.ErrIngressConflict)
}

func TestMenuKey(t *testing.T) {
	require.Equal(t, "Help", menuKey("⚠️ Help"))
	require.Equal(t, "Analyze Photo", menuKey("📷 Analyze Photo"))
	require.Equal(t, "Analyze Photo", menuKey("  Analyze Photo "))
	require.Equal(t, "HELP", menuKey("HELP"))
	require.Equal(t, "!!help", menuKey("!!help"))
}

func TestLargestPhoto(t *testing.T) {
	_, err := largestPhoto(nil)
	require.ErrorIs(t, err, entity.ErrNoPhoto)

	best, err := largestPhoto(photoUpdate(1, "big").Message.Photo)
	require.NoError(t, err)
	require.Equal(t, "big", best.FileID)
}
