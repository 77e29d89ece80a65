package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Berlin"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr           string `envconfig:"REDIS_ADDR"`
	RabbitURL           string `envconfig:"RABBITMQ_URL"`
	RabbitManagementURL string `envconfig:"RABBITMQ_MANAGEMENT_URL"`

	Sources struct {
		ChemiefabrikURL string `envconfig:"CHEMIEFABRIK_URL" default:"https://www.chemiefabrik.info/gigs/"`
		SchlachthofURL  string `envconfig:"SCHLACHTHOF_URL" default:"https://www.alter-schlachthof.de/api/getEvents"`
		JungeGardeURL   string `envconfig:"JUNGE_GARDE_URL" default:"https://www.junge-garde.com/api/getEvents"`
		TimeoutSeconds  int    `envconfig:"SOURCE_TIMEOUT_SECONDS" default:"30"`
	} `envconfig:""`

	Schedule struct {
		// Время суточных триггеров в местном часовом поясе, формат HH:MM.
		NotifyNewAt    string `envconfig:"NOTIFY_NEW_AT" default:"19:00"`
		RemindAt       string `envconfig:"REMIND_AT" default:"10:00"`
		ScrapeInterval int    `envconfig:"SCRAPE_INTERVAL_MINUTES" default:"360"`
	} `envconfig:""`

	Limits struct {
		ListLimit int `envconfig:"LIST_LIMIT" default:"20"`
	} `envconfig:""`

	Queues struct {
		Notify string `envconfig:"NOTIFY_QUEUE_KEY" default:"notify_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
