package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-concert-bot/internal/adapters/bot"
	"tg-concert-bot/internal/adapters/repo"
	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/config"
	"tg-concert-bot/internal/infra/db"
	applog "tg-concert-bot/internal/infra/log"
	"tg-concert-bot/internal/infra/metrics"
	"tg-concert-bot/internal/infra/queue"
	"tg-concert-bot/internal/usecase/notify"
)

// maxDeliveryAttempts ограничивает повторные попытки доставки одной задачи.
const maxDeliveryAttempts = 5

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("notifier: неизвестный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("notifier: не задан TG_BOT_TOKEN")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: не удалось подключиться к Telegram")
	}

	sender := bot.NewSender(botAPI, loc, logger)
	notifier := bot.NewNotifier(sender, repoAdapter)
	deliverer := notify.NewDeliverer(repoAdapter, repoAdapter, notifier, logger)

	notifyQueue := buildQueue(cfg, logger)

	logger.Info().Str("queue", cfg.Queues.Notify).Msg("notifier: запуск воркера доставки")
	jobWorker(ctx, notifyQueue, deliverer, logger)
	logger.Info().Msg("notifier: остановлен")
}

func jobWorker(ctx context.Context, q domain.NotifyQueue, deliverer *notify.Deliverer, logger zerolog.Logger) {
	for {
		job, ack, err := q.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error().Err(err).Msg("notifier: ошибка чтения из очереди")
			time.Sleep(time.Second)
			continue
		}

		outcome, err := deliverer.Process(ctx, job)
		if err != nil {
			logger.Error().Err(err).
				Str("job_id", job.ID).
				Int64("user_id", job.UserID).
				Str("concert_id", job.ConcertID).
				Msg("notifier: обработка задачи завершилась с ошибкой")
		}

		switch outcome {
		case notify.OutcomeCompleted:
			ackOrLog(ack, true, job, logger)
		case notify.OutcomeRetry:
			if job.Attempt+1 >= maxDeliveryAttempts {
				logger.Warn().
					Str("job_id", job.ID).
					Int("attempts", job.Attempt+1).
					Msg("notifier: лимит попыток исчерпан, задача отброшена")
				ackOrLog(ack, true, job, logger)
				continue
			}
			retry := job
			retry.Attempt++
			if err := q.Enqueue(ctx, retry); err != nil {
				logger.Error().Err(err).Str("job_id", job.ID).Msg("notifier: не удалось вернуть задачу в очередь")
				// Подтверждать нечем: пусть брокер вернёт исходное сообщение.
				ackOrLog(ack, false, job, logger)
				continue
			}
			ackOrLog(ack, true, job, logger)
		}
	}
}

func ackOrLog(ack domain.NotifyAckFunc, success bool, job domain.NotificationJob, logger zerolog.Logger) {
	if err := ack(success); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("notifier: не удалось подтвердить задачу")
	}
}

func buildQueue(cfg config.AppConfig, logger zerolog.Logger) domain.NotifyQueue {
	if cfg.RabbitURL != "" {
		q, err := queue.NewRabbitNotifyQueue(cfg.RabbitURL, cfg.RabbitManagementURL, cfg.Queues.Notify)
		if err != nil {
			logger.Fatal().Err(err).Msg("не удалось инициализировать очередь RabbitMQ")
		}
		return q
	}
	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("notifier: не указан адрес Redis (REDIS_ADDR)")
	}
	return queue.NewRedisNotifyQueue(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.Queues.Notify)
}
