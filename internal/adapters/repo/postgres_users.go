package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
)

const userColumns = `user_id, username, first_name, last_name, subscribed_concerts, subscribed_venues, notified_concerts, created_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u         domain.User
		username  sql.NullString
		firstName sql.NullString
		lastName  sql.NullString
	)
	err := row.Scan(&u.UserID, &username, &firstName, &lastName, &u.SubscribedConcerts, &u.SubscribedVenues, &u.NotifiedConcerts, &u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	return u, nil
}

// AddUser создаёт пользователя при первом контакте; повторный вызов — no-op.
func (p *Postgres) AddUser(ctx context.Context, userID int64, profile domain.TelegramProfile) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO users (user_id, username, first_name, last_name)
VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''))
ON CONFLICT (user_id) DO NOTHING
`, userID, strings.TrimSpace(profile.Username), strings.TrimSpace(profile.FirstName), strings.TrimSpace(profile.LastName))
	metrics.ObserveNetworkRequest("postgres", "users_insert", "users", start, err)
	return err
}

// GetUser возвращает пользователя по Telegram ID.
func (p *Postgres) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	u, err := scanUser(p.pool.QueryRow(ctx, `
SELECT `+userColumns+` FROM users WHERE user_id = $1
`, userID))
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	return u, err
}

// setMembership выполняет одно охраняемое обновление набора: условие в WHERE
// делает мутацию идемпотентной без FOR UPDATE, а RowsAffected сообщает,
// изменилось ли состояние.
func (p *Postgres) setMembership(ctx context.Context, operation, column string, userID int64, member string, add bool) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var query string
	if add {
		query = `UPDATE users SET ` + column + ` = array_append(` + column + `, $2) WHERE user_id = $1 AND NOT $2 = ANY(` + column + `)`
	} else {
		query = `UPDATE users SET ` + column + ` = array_remove(` + column + `, $2) WHERE user_id = $1 AND $2 = ANY(` + column + `)`
	}

	start := time.Now()
	res, err := p.pool.Exec(ctx, query, userID, member)
	metrics.ObserveNetworkRequest("postgres", operation, "users", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// SetConcertSubscription добавляет или убирает концерт из избранного.
func (p *Postgres) SetConcertSubscription(ctx context.Context, userID int64, concertID string, subscribed bool) (bool, error) {
	return p.setMembership(ctx, "users_set_concert_subscription", "subscribed_concerts", userID, concertID, subscribed)
}

// SetVenueSubscription включает или выключает оповещения площадки.
func (p *Postgres) SetVenueSubscription(ctx context.Context, userID int64, venue string, subscribed bool) (bool, error) {
	return p.setMembership(ctx, "users_set_venue_subscription", "subscribed_venues", userID, venue, subscribed)
}

func (p *Postgres) isMember(ctx context.Context, operation, column string, userID int64, member string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var ok bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT $2 = ANY(`+column+`) FROM users WHERE user_id = $1
`, userID, member).Scan(&ok)
	metrics.ObserveNetworkRequest("postgres", operation, "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return ok, err
}

// IsConcertSubscribed проверяет, в избранном ли концерт.
func (p *Postgres) IsConcertSubscribed(ctx context.Context, userID int64, concertID string) (bool, error) {
	return p.isMember(ctx, "users_is_concert_subscribed", "subscribed_concerts", userID, concertID)
}

// IsVenueSubscribed проверяет подписку на площадку.
func (p *Postgres) IsVenueSubscribed(ctx context.Context, userID int64, venue string) (bool, error) {
	return p.isMember(ctx, "users_is_venue_subscribed", "subscribed_venues", userID, venue)
}

func (p *Postgres) listUsersWhere(ctx context.Context, operation, condition string, arg any) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+userColumns+` FROM users WHERE `+condition+`
`, arg)
	metrics.ObserveNetworkRequest("postgres", operation, "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersSubscribedToVenue возвращает подписчиков площадки.
func (p *Postgres) UsersSubscribedToVenue(ctx context.Context, venue string) ([]domain.User, error) {
	return p.listUsersWhere(ctx, "users_by_venue", `$1 = ANY(subscribed_venues)`, venue)
}

// UsersSubscribedToConcert возвращает пользователей с концертом в избранном.
func (p *Postgres) UsersSubscribedToConcert(ctx context.Context, concertID string) ([]domain.User, error) {
	return p.listUsersWhere(ctx, "users_by_concert", `$1 = ANY(subscribed_concerts)`, concertID)
}

// MarkNotified долговечно отмечает пару (пользователь, концерт); повторная
// отметка — no-op.
func (p *Postgres) MarkNotified(ctx context.Context, userID int64, concertID string) error {
	_, err := p.setMembership(ctx, "users_mark_notified", "notified_concerts", userID, concertID, true)
	return err
}

// WasNotified проверяет отметку об уведомлении.
func (p *Postgres) WasNotified(ctx context.Context, userID int64, concertID string) (bool, error) {
	return p.isMember(ctx, "users_was_notified", "notified_concerts", userID, concertID)
}
