package domain

import (
	"context"
	"time"
)

// Source выгружает события одной площадки. Fetch никогда не возвращает
// ошибку: при недоступности или ошибке парсинга источник отдаёт пустой
// список, чтобы данные остальных площадок слились без него.
type Source interface {
	Info() SourceInfo
	Fetch(ctx context.Context) []NormalizedEvent
}

// ConcertRepo хранит канонический набор концертов.
type ConcertRepo interface {
	// ListAll возвращает весь сохранённый набор с выведенными подписчиками.
	ListAll(ctx context.Context) ([]Concert, error)
	// ListUpcoming возвращает будущие концерты по возрастанию даты.
	ListUpcoming(ctx context.Context, now time.Time, limit int) ([]Concert, error)
	ListByVenue(ctx context.Context, venue string, now time.Time) ([]Concert, error)
	GetByID(ctx context.Context, id string) (Concert, error)
	ListVenues(ctx context.Context, now time.Time) ([]string, error)
	// ReplaceAll атомарно заменяет канонический набор: прежние записи
	// удаляются, новые вставляются, миграции идентификаторов применяются к
	// подпискам пользователей — всё в одной транзакции.
	ReplaceAll(ctx context.Context, concerts []Concert, migrations []IDMigration) error
}

// UserRepo реализует контракт хранилища подписок.
type UserRepo interface {
	// AddUser создаёт пользователя; повторный вызов — no-op.
	AddUser(ctx context.Context, userID int64, profile TelegramProfile) error
	GetUser(ctx context.Context, userID int64) (User, error)
	// SetConcertSubscription добавляет или убирает концерт из избранного и
	// сообщает, изменилось ли состояние.
	SetConcertSubscription(ctx context.Context, userID int64, concertID string, subscribed bool) (bool, error)
	SetVenueSubscription(ctx context.Context, userID int64, venue string, subscribed bool) (bool, error)
	IsConcertSubscribed(ctx context.Context, userID int64, concertID string) (bool, error)
	IsVenueSubscribed(ctx context.Context, userID int64, venue string) (bool, error)
	UsersSubscribedToVenue(ctx context.Context, venue string) ([]User, error)
	UsersSubscribedToConcert(ctx context.Context, concertID string) ([]User, error)
	MarkNotified(ctx context.Context, userID int64, concertID string) error
	WasNotified(ctx context.Context, userID int64, concertID string) (bool, error)
}

// Notifier доставляет сообщение о концерте пользователю. Рендеринг текста и
// клавиатур — забота транспорта.
type Notifier interface {
	SendConcert(ctx context.Context, userID int64, concert Concert, kind NotificationKind) error
}

// Cache используется для простых TTL-хранилищ и суточных замков триггеров.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
