package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
)

// Service — диспетчер уведомлений. Он не отправляет сообщения сам, а
// ставит обязательства в очередь; доставкой занимается Deliverer.
type Service struct {
	concerts domain.ConcertRepo
	users    domain.UserRepo
	queue    domain.NotifyQueue
	log      zerolog.Logger
}

// NewService создаёт диспетчер уведомлений.
func NewService(concerts domain.ConcertRepo, users domain.UserRepo, queue domain.NotifyQueue, log zerolog.Logger) *Service {
	return &Service{concerts: concerts, users: users, queue: queue, log: log}
}

// DispatchNewConcerts ставит в очередь уведомления о новых концертах для
// подписчиков площадок. Пара (пользователь, концерт) уведомляется не более
// одного раза: уже отмеченные в notified_concerts пропускаются здесь, а
// окончательная проверка повторяется воркером перед отправкой.
func (s *Service) DispatchNewConcerts(ctx context.Context, now time.Time) error {
	concerts, err := s.concerts.ListUpcoming(ctx, now, 0)
	if err != nil {
		return fmt.Errorf("получение концертов: %w", err)
	}

	var enqueued int
	for _, concert := range concerts {
		users, err := s.users.UsersSubscribedToVenue(ctx, concert.Venue)
		if err != nil {
			return fmt.Errorf("подписчики площадки %q: %w", concert.Venue, err)
		}
		for _, user := range users {
			notified, err := s.users.WasNotified(ctx, user.UserID, concert.ID)
			if err != nil {
				return fmt.Errorf("проверка уведомления: %w", err)
			}
			if notified {
				continue
			}
			if err := s.enqueue(ctx, user.UserID, concert.ID, domain.NotificationNewConcert); err != nil {
				return err
			}
			enqueued++
		}
	}

	s.log.Info().Int("enqueued", enqueued).Msg("notify: new concert dispatch finished")
	return nil
}

// DispatchReminders ставит в очередь напоминания о концертах, которые
// состоятся завтра по локальному календарю. Дедупликации нет намеренно:
// повторный запуск триггера шлёт напоминание ещё раз.
func (s *Service) DispatchReminders(ctx context.Context, now time.Time) error {
	concerts, err := s.concerts.ListUpcoming(ctx, now, 0)
	if err != nil {
		return fmt.Errorf("получение концертов: %w", err)
	}

	tomorrow := now.AddDate(0, 0, 1)
	var enqueued int
	for _, concert := range concerts {
		if !sameLocalDay(concert.Date.In(now.Location()), tomorrow) {
			continue
		}
		users, err := s.users.UsersSubscribedToConcert(ctx, concert.ID)
		if err != nil {
			return fmt.Errorf("подписчики концерта %q: %w", concert.ID, err)
		}
		for _, user := range users {
			if err := s.enqueue(ctx, user.UserID, concert.ID, domain.NotificationReminder); err != nil {
				return err
			}
			enqueued++
		}
	}

	s.log.Info().Int("enqueued", enqueued).Msg("notify: reminder dispatch finished")
	return nil
}

func (s *Service) enqueue(ctx context.Context, userID int64, concertID string, kind domain.NotificationKind) error {
	job := domain.NotificationJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		ConcertID: concertID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("постановка задачи в очередь: %w", err)
	}
	metrics.NotificationsEnqueued.WithLabelValues(string(kind)).Inc()
	return nil
}

func sameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
