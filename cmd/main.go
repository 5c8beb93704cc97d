package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crop-doctor/config"
	"crop-doctor/internal/api/rest"
	"crop-doctor/internal/api/telegram"
	"crop-doctor/internal/container"
	"crop-doctor/internal/domain/entity"
	"crop-doctor/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "crop-doctor",
		Short:         "Crop leaf disease classifier with HTTP API and Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API and the bot (polling or webhook, per BOT_INGRESS)",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "bot",
			Short: "Start only the Telegram bot in long polling mode",
			Args:  cobra.NoArgs,
			RunE:  runBot,
		},
		&cobra.Command{
			Use:   "predict IMAGE",
			Short: "Classify a single image file and print the result",
			Args:  cobra.ExactArgs(1),
			RunE:  runPredict,
		},
	)

	return rootCmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newBot отсутствие токена при включённом боте единственная фатальная ошибка старта
func newBot(c *container.Container) *telegram.Bot {
	cfg, logger := c.Config, c.Logger
	if cfg.TelegramToken == "" {
		logger.Fatal("TELEGRAM_BOT_TOKEN is required when the bot is enabled", zap.String("ingress", string(cfg.BotIngress)))
	}

	api, err := telegram.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		logger.Error("telegram authorization failed, bot disabled", zap.Error(err))
		return nil
	}
	logger.Info("authorized on telegram", zap.String("account", api.Self.UserName))

	return c.NewBot(api)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	c := container.New(ctx, cfg, logger)
	defer c.Close()
	c.LoadModelAsync()

	var bot *telegram.Bot
	if cfg.BotEnabled() {
		bot = newBot(c)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.NewHTTPServer(bot).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		return rest.Serve(gctx, server, cfg.ShutdownTimeout, logger, nil)
	})

	if bot != nil {
		switch cfg.BotIngress {
		case config.IngressPolling:
			g.Go(func() error { return bot.Run(gctx) })
		case config.IngressWebhook:
			if cfg.WebhookURL == "" {
				logger.Warn("webhook ingress without WEBHOOK_URL, register it via /api/set-webhook")
			} else if err := bot.SetWebhook(cfg.WebhookURL); err != nil {
				logger.Error("failed to register webhook", zap.Error(err))
			}
		}
	}

	return g.Wait()
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.BotIngress != config.IngressPolling {
		return fmt.Errorf("%w: the bot command needs BOT_INGRESS=polling, got %s", entity.ErrIngressConflict, cfg.BotIngress)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	c := container.New(ctx, cfg, logger)
	defer c.Close()
	c.LoadModelAsync()

	bot := newBot(c)
	if bot == nil {
		return errors.New("telegram bot could not be started")
	}
	return bot.Run(ctx)
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	c := container.New(cmd.Context(), cfg, logger)
	defer c.Close()
	engine := c.Model.Load()
	if !engine.Available() {
		return fmt.Errorf("%w: %v", entity.ErrModelUnavailable, engine.Err())
	}

	result, err := c.DiagnosisService.Diagnose(cmd.Context(), "cli", data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model:      %s\n", engine.ModelPath())
	fmt.Fprintf(out, "class:      %s\n", result.Label)
	fmt.Fprintf(out, "confidence: %.4f\n", result.Confidence)
	for i, top := range result.TopStrings() {
		fmt.Fprintf(out, "top %d:      %s\n", i+1, top)
	}
	return nil
}
