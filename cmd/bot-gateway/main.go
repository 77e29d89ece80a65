package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-concert-bot/internal/adapters/bot"
	"tg-concert-bot/internal/adapters/repo"
	"tg-concert-bot/internal/adapters/sources"
	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/config"
	"tg-concert-bot/internal/infra/db"
	infrahttp "tg-concert-bot/internal/infra/http"
	applog "tg-concert-bot/internal/infra/log"
	"tg-concert-bot/internal/infra/metrics"
	"tg-concert-bot/internal/usecase/reconcile"
	"tg-concert-bot/internal/usecase/subscriptions"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("bot-gateway: неизвестный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	sourceTimeout := time.Duration(cfg.Sources.TimeoutSeconds) * time.Second
	restyClient := resty.New().SetTimeout(sourceTimeout)
	sourceList := []domain.Source{
		sources.NewChemiefabrik(restyClient, cfg.Sources.ChemiefabrikURL, loc, logger),
		sources.NewAlterSchlachthof(restyClient, cfg.Sources.SchlachthofURL, loc, logger),
		sources.NewJungeGarde(restyClient, cfg.Sources.JungeGardeURL, loc, logger),
	}
	reconcileService := reconcile.NewService(repoAdapter, sourceList, sourceTimeout, logger)
	subsService := subscriptions.NewService(repoAdapter, repoAdapter, logger)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL + "/bot/webhook")
		if err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: некорректный адрес вебхука")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: не удалось зарегистрировать вебхук")
		}
	}

	sender := bot.NewSender(botAPI, loc, logger)
	h := bot.NewHandler(botAPI, sender, logger, subsService, reconcileService, repoAdapter, loc, cfg.Limits.ListLimit)

	srv := infrahttp.NewServer(logger)
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("bot-gateway: HTTP сервер остановлен")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Info().Msg("bot-gateway: остановка")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
