package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
)

// Outcome — результат обработки задачи воркером доставки.
type Outcome int

const (
	// OutcomeCompleted — задача исчерпана, подтверждаем и не повторяем.
	OutcomeCompleted Outcome = iota
	// OutcomeRetry — доставка сорвалась, задачу нужно вернуть в очередь.
	OutcomeRetry
)

// Deliverer выполняет обязательства из очереди: перепроверяет дедупликацию,
// отправляет сообщение и фиксирует факт доставки. Отметка ставится только
// после успешной отправки, поэтому сбой между отправкой и отметкой в худшем
// случае даёт повтор, а не потерю уведомления.
type Deliverer struct {
	concerts domain.ConcertRepo
	users    domain.UserRepo
	notifier domain.Notifier
	log      zerolog.Logger
}

// NewDeliverer создаёт воркер доставки.
func NewDeliverer(concerts domain.ConcertRepo, users domain.UserRepo, notifier domain.Notifier, log zerolog.Logger) *Deliverer {
	return &Deliverer{concerts: concerts, users: users, notifier: notifier, log: log}
}

// Process обрабатывает одну задачу.
func (d *Deliverer) Process(ctx context.Context, job domain.NotificationJob) (Outcome, error) {
	concert, err := d.concerts.GetByID(ctx, job.ConcertID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Концерт пропал между постановкой задачи и доставкой —
			// обязательство снимается.
			d.log.Debug().Str("concert_id", job.ConcertID).Msg("notify: concert vanished, dropping job")
			return OutcomeCompleted, nil
		}
		return OutcomeRetry, fmt.Errorf("получение концерта: %w", err)
	}

	if job.Kind == domain.NotificationNewConcert {
		notified, err := d.users.WasNotified(ctx, job.UserID, job.ConcertID)
		if err != nil {
			return OutcomeRetry, fmt.Errorf("проверка уведомления: %w", err)
		}
		if notified {
			return OutcomeCompleted, nil
		}
	}

	if err := d.notifier.SendConcert(ctx, job.UserID, concert, job.Kind); err != nil {
		metrics.BotSendErrors.Inc()
		return OutcomeRetry, fmt.Errorf("отправка уведомления: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues(string(job.Kind)).Inc()

	if job.Kind == domain.NotificationNewConcert {
		if err := d.users.MarkNotified(ctx, job.UserID, job.ConcertID); err != nil {
			// Сообщение уже ушло; без отметки повтор задачи продублирует его,
			// поэтому сбой здесь возвращает задачу в очередь.
			return OutcomeRetry, fmt.Errorf("отметка уведомления: %w", err)
		}
	}

	return OutcomeCompleted, nil
}
