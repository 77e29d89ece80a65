package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
)

// Postgres реализует репозитории концертов и пользователей на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ConcertRepo = (*Postgres)(nil)
	_ domain.UserRepo    = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const concertColumns = `id, title, venue, date, price, poster_url, description, ticket_url, start_time, door_time, artists`

func scanConcert(row pgx.Row) (domain.Concert, error) {
	var (
		c       domain.Concert
		price   sql.NullString
		poster  sql.NullString
		desc    sql.NullString
		ticket  sql.NullString
		startAt sql.NullString
		doorAt  sql.NullString
		artists []byte
	)
	err := row.Scan(&c.ID, &c.Title, &c.Venue, &c.Date, &price, &poster, &desc, &ticket, &startAt, &doorAt, &artists)
	if err != nil {
		return domain.Concert{}, err
	}
	c.Price = price.String
	c.PosterURL = poster.String
	c.Description = desc.String
	c.TicketURL = ticket.String
	c.StartTime = startAt.String
	c.DoorTime = doorAt.String
	if len(artists) > 0 {
		if err := json.Unmarshal(artists, &c.Artists); err != nil {
			return domain.Concert{}, err
		}
	}
	return c, nil
}

func (p *Postgres) listConcerts(ctx context.Context, operation, query string, args ...any) ([]domain.Concert, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", operation, "concerts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var concerts []domain.Concert
	for rows.Next() {
		c, err := scanConcert(rows)
		if err != nil {
			return nil, err
		}
		concerts = append(concerts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.attachSubscribers(ctx, concerts); err != nil {
		return nil, err
	}
	return concerts, nil
}

// attachSubscribers выводит подписчиков концертов из пользовательских
// наборов одним запросом. Источник истины — users.subscribed_concerts.
func (p *Postgres) attachSubscribers(ctx context.Context, concerts []domain.Concert) error {
	if len(concerts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(concerts))
	index := make(map[string]int, len(concerts))
	for i, c := range concerts {
		ids = append(ids, c.ID)
		index[c.ID] = i
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT s.concert_id, u.user_id
FROM users u, unnest(u.subscribed_concerts) AS s(concert_id)
WHERE s.concert_id = ANY($1)
`, ids)
	metrics.ObserveNetworkRequest("postgres", "concerts_subscribers", "users", start, err)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			concertID string
			userID    int64
		)
		if err := rows.Scan(&concertID, &userID); err != nil {
			return err
		}
		if i, ok := index[concertID]; ok {
			concerts[i].Subscribers = append(concerts[i].Subscribers, userID)
		}
	}
	return rows.Err()
}

// ListAll возвращает весь канонический набор.
func (p *Postgres) ListAll(ctx context.Context) ([]domain.Concert, error) {
	return p.listConcerts(ctx, "concerts_list_all", `
SELECT `+concertColumns+` FROM concerts ORDER BY date, id
`)
}

// ListUpcoming возвращает будущие концерты по возрастанию даты.
// limit <= 0 снимает ограничение.
func (p *Postgres) ListUpcoming(ctx context.Context, now time.Time, limit int) ([]domain.Concert, error) {
	if limit > 0 {
		return p.listConcerts(ctx, "concerts_list_upcoming", `
SELECT `+concertColumns+` FROM concerts WHERE date >= $1 ORDER BY date, id LIMIT $2
`, now, limit)
	}
	return p.listConcerts(ctx, "concerts_list_upcoming", `
SELECT `+concertColumns+` FROM concerts WHERE date >= $1 ORDER BY date, id
`, now)
}

// ListByVenue возвращает будущие концерты площадки.
func (p *Postgres) ListByVenue(ctx context.Context, venue string, now time.Time) ([]domain.Concert, error) {
	return p.listConcerts(ctx, "concerts_list_by_venue", `
SELECT `+concertColumns+` FROM concerts WHERE venue = $1 AND date >= $2 ORDER BY date, id
`, venue, now)
}

// GetByID возвращает концерт по каноническому идентификатору.
func (p *Postgres) GetByID(ctx context.Context, id string) (domain.Concert, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	c, err := scanConcert(p.pool.QueryRow(ctx, `
SELECT `+concertColumns+` FROM concerts WHERE id = $1
`, id))
	metrics.ObserveNetworkRequest("postgres", "concerts_get_by_id", "concerts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Concert{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Concert{}, err
	}
	concerts := []domain.Concert{c}
	if err := p.attachSubscribers(ctx, concerts); err != nil {
		return domain.Concert{}, err
	}
	return concerts[0], nil
}

// ListVenues возвращает площадки с будущими концертами.
func (p *Postgres) ListVenues(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT venue FROM concerts WHERE date >= $1 ORDER BY venue
`, now)
	metrics.ObserveNetworkRequest("postgres", "concerts_list_venues", "concerts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var venues []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		venues = append(venues, v)
	}
	return venues, rows.Err()
}

// ReplaceAll атомарно заменяет канонический набор. Прежние записи удаляются,
// новый набор вставляется батчем, миграции идентификаторов переписывают
// пользовательские подписки, а отметки об уведомлениях для исчезнувших
// концертов вычищаются — всё в одной транзакции, чтобы подписки никогда не
// ссылались на промежуточное состояние.
func (p *Postgres) ReplaceAll(ctx context.Context, concerts []domain.Concert, migrations []domain.IDMigration) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "concerts", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM concerts`)
	metrics.ObserveNetworkRequest("postgres", "concerts_delete_all", "concerts", start, err)
	if err != nil {
		return err
	}

	if len(concerts) > 0 {
		batch := &pgx.Batch{}
		for _, c := range concerts {
			artists, err := json.Marshal(c.Artists)
			if err != nil {
				return err
			}
			batch.Queue(`
INSERT INTO concerts (id, title, venue, date, price, poster_url, description, ticket_url, start_time, door_time, artists)
VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),NULLIF($8,''),NULLIF($9,''),NULLIF($10,''),$11)
`, c.ID, c.Title, c.Venue, c.Date, c.Price, c.PosterURL, c.Description, c.TicketURL, c.StartTime, c.DoorTime, artists)
		}
		start = time.Now()
		br := tx.SendBatch(ctx, batch)
		metrics.ObserveNetworkRequest("postgres", "concerts_send_batch", "concerts", start, nil)
		for range concerts {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		if err := br.Close(); err != nil {
			return err
		}
	}

	for _, m := range migrations {
		start = time.Now()
		_, err = tx.Exec(ctx, `
UPDATE users
SET subscribed_concerts = array_replace(subscribed_concerts, $1, $2),
    notified_concerts = array_replace(notified_concerts, $1, $2)
WHERE $1 = ANY(subscribed_concerts) OR $1 = ANY(notified_concerts)
`, m.Old, m.New)
		metrics.ObserveNetworkRequest("postgres", "users_migrate_concert_id", "users", start, err)
		if err != nil {
			return err
		}
	}

	// Отметки об уведомлениях для концертов, выпавших из набора, больше не
	// нужны; избранное не трогаем — пользователь снимает его сам.
	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE users
SET notified_concerts = ARRAY(
    SELECT n FROM unnest(notified_concerts) AS n
    WHERE n IN (SELECT id FROM concerts)
)
WHERE EXISTS (
    SELECT 1 FROM unnest(notified_concerts) AS n
    WHERE n NOT IN (SELECT id FROM concerts)
)
`)
	metrics.ObserveNetworkRequest("postgres", "users_prune_notified", "users", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "concerts", start, err)
	return err
}
