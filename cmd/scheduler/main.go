package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-concert-bot/internal/adapters/repo"
	"tg-concert-bot/internal/adapters/sources"
	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/cache"
	"tg-concert-bot/internal/infra/config"
	"tg-concert-bot/internal/infra/db"
	applog "tg-concert-bot/internal/infra/log"
	"tg-concert-bot/internal/infra/metrics"
	"tg-concert-bot/internal/infra/queue"
	"tg-concert-bot/internal/usecase/notify"
	"tg-concert-bot/internal/usecase/reconcile"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.TZ).Msg("scheduler: неизвестный часовой пояс")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	dayLocks := cache.NewRedis(redisClient)

	notifyQueue := buildQueue(cfg, redisClient, logger)

	sourceTimeout := time.Duration(cfg.Sources.TimeoutSeconds) * time.Second
	restyClient := resty.New().SetTimeout(sourceTimeout)
	sourceList := []domain.Source{
		sources.NewChemiefabrik(restyClient, cfg.Sources.ChemiefabrikURL, loc, logger),
		sources.NewAlterSchlachthof(restyClient, cfg.Sources.SchlachthofURL, loc, logger),
		sources.NewJungeGarde(restyClient, cfg.Sources.JungeGardeURL, loc, logger),
	}
	reconcileService := reconcile.NewService(repoAdapter, sourceList, sourceTimeout, logger)
	notifyService := notify.NewService(repoAdapter, repoAdapter, notifyQueue, logger)

	scrapeInterval := time.Duration(cfg.Schedule.ScrapeInterval) * time.Minute

	logger.Info().
		Str("notify_new_at", cfg.Schedule.NotifyNewAt).
		Str("remind_at", cfg.Schedule.RemindAt).
		Dur("scrape_interval", scrapeInterval).
		Msg("scheduler: запуск")

	if err := reconcileService.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("scheduler: стартовая сверка не удалась")
	}
	lastScrape := time.Now()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановлен")
			return
		case <-ticker.C:
		}

		now := time.Now().In(loc)
		clock := now.Format("15:04")
		day := now.Format("2006-01-02")

		if clock == cfg.Schedule.NotifyNewAt {
			// Суточный замок переживает рестарты: повторный запуск в то же
			// окно не продублирует диспетчеризацию.
			err := dayLocks.Once("notify:new:"+day, 24*time.Hour, func() error {
				if err := reconcileService.Run(ctx); err != nil {
					return err
				}
				return notifyService.DispatchNewConcerts(ctx, now)
			})
			if err != nil {
				logger.Error().Err(err).Msg("scheduler: триггер новых концертов не удался")
			} else {
				lastScrape = now
			}
		}

		if clock == cfg.Schedule.RemindAt {
			err := dayLocks.Once("notify:remind:"+day, 24*time.Hour, func() error {
				return notifyService.DispatchReminders(ctx, now)
			})
			if err != nil {
				logger.Error().Err(err).Msg("scheduler: триггер напоминаний не удался")
			}
		}

		if time.Since(lastScrape) >= scrapeInterval {
			if err := reconcileService.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduler: фоновая сверка не удалась")
			}
			lastScrape = now
		}
	}
}

// buildQueue выбирает транспорт очереди: RabbitMQ при заданном RABBITMQ_URL,
// иначе Redis-список.
func buildQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.NotifyQueue {
	if cfg.RabbitURL != "" {
		q, err := queue.NewRabbitNotifyQueue(cfg.RabbitURL, cfg.RabbitManagementURL, cfg.Queues.Notify)
		if err != nil {
			logger.Fatal().Err(err).Msg("не удалось инициализировать очередь RabbitMQ")
		}
		return q
	}
	return queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify)
}
