package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tg-concert-bot/internal/domain"
)

// ErrConcertNotFound возвращается при подписке на неизвестный концерт.
var ErrConcertNotFound = errors.New("концерт не найден")

// Service реализует операции хранилища подписок поверх репозиториев.
// Единственный источник истины — пользовательские наборы; подписчики
// концерта выводятся запросом, а не хранятся второй раз.
type Service struct {
	users    domain.UserRepo
	concerts domain.ConcertRepo
	log      zerolog.Logger
}

// NewService создаёт сервис подписок.
func NewService(users domain.UserRepo, concerts domain.ConcertRepo, log zerolog.Logger) *Service {
	return &Service{users: users, concerts: concerts, log: log}
}

// Register создаёт пользователя при первом контакте; повторный вызов — no-op.
func (s *Service) Register(ctx context.Context, userID int64, profile domain.TelegramProfile) error {
	if err := s.users.AddUser(ctx, userID, profile); err != nil {
		return fmt.Errorf("создание пользователя: %w", err)
	}
	return nil
}

// SetConcertSubscription добавляет или убирает концерт из избранного.
// Возвращает false, если состояние уже было запрошенным.
func (s *Service) SetConcertSubscription(ctx context.Context, userID int64, concertID string, subscribed bool) (bool, error) {
	if subscribed {
		if _, err := s.concerts.GetByID(ctx, concertID); err != nil {
			return false, ErrConcertNotFound
		}
	}
	changed, err := s.users.SetConcertSubscription(ctx, userID, concertID, subscribed)
	if err != nil {
		return false, fmt.Errorf("изменение избранного: %w", err)
	}
	return changed, nil
}

// SetVenueSubscription включает или выключает оповещения площадки.
func (s *Service) SetVenueSubscription(ctx context.Context, userID int64, venue string, subscribed bool) (bool, error) {
	changed, err := s.users.SetVenueSubscription(ctx, userID, venue, subscribed)
	if err != nil {
		return false, fmt.Errorf("изменение подписки на площадку: %w", err)
	}
	return changed, nil
}

// IsConcertSubscribed — точечный запрос избранного.
func (s *Service) IsConcertSubscribed(ctx context.Context, userID int64, concertID string) (bool, error) {
	return s.users.IsConcertSubscribed(ctx, userID, concertID)
}

// IsVenueSubscribed — точечный запрос подписки на площадку.
func (s *Service) IsVenueSubscribed(ctx context.Context, userID int64, venue string) (bool, error) {
	return s.users.IsVenueSubscribed(ctx, userID, venue)
}

// SubscribedVenues возвращает площадки пользователя.
func (s *Service) SubscribedVenues(ctx context.Context, userID int64) ([]string, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return user.SubscribedVenues, nil
}

// FavoriteConcerts возвращает будущие избранные концерты по возрастанию даты.
// Избранное может ссылаться на уже удалённые концерты — такие записи молча
// пропускаются.
func (s *Service) FavoriteConcerts(ctx context.Context, userID int64, now time.Time) ([]domain.Concert, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	var favorites []domain.Concert
	for _, id := range user.SubscribedConcerts {
		concert, err := s.concerts.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if concert.Date.Before(now) {
			continue
		}
		favorites = append(favorites, concert)
	}
	sort.SliceStable(favorites, func(i, j int) bool { return favorites[i].Date.Before(favorites[j].Date) })
	return favorites, nil
}
