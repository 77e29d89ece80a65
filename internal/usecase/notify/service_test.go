package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-concert-bot/internal/domain"
)

type fakeConcertRepo struct {
	concerts []domain.Concert
}

func (r *fakeConcertRepo) ListAll(_ context.Context) ([]domain.Concert, error) {
	return r.concerts, nil
}

func (r *fakeConcertRepo) ListUpcoming(_ context.Context, now time.Time, _ int) ([]domain.Concert, error) {
	var out []domain.Concert
	for _, c := range r.concerts {
		if !c.Date.Before(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConcertRepo) ListByVenue(_ context.Context, venue string, _ time.Time) ([]domain.Concert, error) {
	var out []domain.Concert
	for _, c := range r.concerts {
		if c.Venue == venue {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConcertRepo) GetByID(_ context.Context, id string) (domain.Concert, error) {
	for _, c := range r.concerts {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Concert{}, domain.ErrNotFound
}

func (r *fakeConcertRepo) ListVenues(_ context.Context, _ time.Time) ([]string, error) {
	return nil, nil
}

func (r *fakeConcertRepo) ReplaceAll(_ context.Context, _ []domain.Concert, _ []domain.IDMigration) error {
	return nil
}

type fakeUserRepo struct {
	users map[int64]*domain.User
}

func newFakeUserRepo(users ...*domain.User) *fakeUserRepo {
	byID := map[int64]*domain.User{}
	for _, u := range users {
		byID[u.UserID] = u
	}
	return &fakeUserRepo{users: byID}
}

func (r *fakeUserRepo) AddUser(_ context.Context, userID int64, _ domain.TelegramProfile) error {
	if _, ok := r.users[userID]; !ok {
		r.users[userID] = &domain.User{UserID: userID}
	}
	return nil
}

func (r *fakeUserRepo) GetUser(_ context.Context, userID int64) (domain.User, error) {
	u, ok := r.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return *u, nil
}

func (r *fakeUserRepo) SetConcertSubscription(_ context.Context, _ int64, _ string, _ bool) (bool, error) {
	return false, nil
}

func (r *fakeUserRepo) SetVenueSubscription(_ context.Context, _ int64, _ string, _ bool) (bool, error) {
	return false, nil
}

func (r *fakeUserRepo) IsConcertSubscribed(_ context.Context, _ int64, _ string) (bool, error) {
	return false, nil
}

func (r *fakeUserRepo) IsVenueSubscribed(_ context.Context, _ int64, _ string) (bool, error) {
	return false, nil
}

func (r *fakeUserRepo) UsersSubscribedToVenue(_ context.Context, venue string) ([]domain.User, error) {
	var out []domain.User
	for _, u := range r.users {
		for _, v := range u.SubscribedVenues {
			if v == venue {
				out = append(out, *u)
			}
		}
	}
	return out, nil
}

func (r *fakeUserRepo) UsersSubscribedToConcert(_ context.Context, concertID string) ([]domain.User, error) {
	var out []domain.User
	for _, u := range r.users {
		for _, c := range u.SubscribedConcerts {
			if c == concertID {
				out = append(out, *u)
			}
		}
	}
	return out, nil
}

func (r *fakeUserRepo) MarkNotified(_ context.Context, userID int64, concertID string) error {
	u := r.users[userID]
	for _, id := range u.NotifiedConcerts {
		if id == concertID {
			return nil
		}
	}
	u.NotifiedConcerts = append(u.NotifiedConcerts, concertID)
	return nil
}

func (r *fakeUserRepo) WasNotified(_ context.Context, userID int64, concertID string) (bool, error) {
	u, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	for _, id := range u.NotifiedConcerts {
		if id == concertID {
			return true, nil
		}
	}
	return false, nil
}

type memQueue struct {
	jobs []domain.NotificationJob
}

func (q *memQueue) Enqueue(_ context.Context, job domain.NotificationJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Receive(_ context.Context) (domain.NotificationJob, domain.NotifyAckFunc, error) {
	if len(q.jobs) == 0 {
		return domain.NotificationJob{}, nil, errors.New("очередь пуста")
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, func(bool) error { return nil }, nil
}

type recordingNotifier struct {
	sent []domain.NotificationJob
	fail bool
}

func (n *recordingNotifier) SendConcert(_ context.Context, userID int64, concert domain.Concert, kind domain.NotificationKind) error {
	if n.fail {
		return errors.New("telegram недоступен")
	}
	n.sent = append(n.sent, domain.NotificationJob{UserID: userID, ConcertID: concert.ID, Kind: kind})
	return nil
}

func drainQueue(t *testing.T, q *memQueue, d *Deliverer) {
	t.Helper()
	ctx := context.Background()
	for len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		if _, err := d.Process(ctx, job); err != nil {
			t.Fatalf("обработка задачи: %v", err)
		}
	}
}

var testNow = time.Date(2030, 5, 1, 19, 0, 0, 0, time.UTC)

func TestNewConcertNotifiedAtMostOnce(t *testing.T) {
	concert := domain.Concert{ID: "cf-20300517-razors", Venue: "Chemiefabrik", Date: time.Date(2030, 5, 17, 20, 0, 0, 0, time.UTC)}
	repo := &fakeConcertRepo{concerts: []domain.Concert{concert}}
	users := newFakeUserRepo(&domain.User{UserID: 1, SubscribedVenues: []string{"Chemiefabrik"}})
	queue := &memQueue{}
	notifier := &recordingNotifier{}

	svc := NewService(repo, users, queue, zerolog.Nop())
	deliverer := NewDeliverer(repo, users, notifier, zerolog.Nop())
	ctx := context.Background()

	// Два цикла диспетчеризации и доставки подряд: второй не должен дать
	// ни одного сообщения.
	for i := 0; i < 2; i++ {
		if err := svc.DispatchNewConcerts(ctx, testNow); err != nil {
			t.Fatalf("диспетчеризация: %v", err)
		}
		drainQueue(t, queue, deliverer)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("ожидалось 1 уведомление, отправлено %d", len(notifier.sent))
	}
}

func TestDuplicateJobsCollapseAtDelivery(t *testing.T) {
	// Дедупликация долговечна и проверяется воркером: даже если в очереди
	// оказались две задачи на одну пару, уйдёт только одно сообщение.
	concert := domain.Concert{ID: "cf-20300517-razors", Venue: "Chemiefabrik", Date: time.Date(2030, 5, 17, 20, 0, 0, 0, time.UTC)}
	repo := &fakeConcertRepo{concerts: []domain.Concert{concert}}
	users := newFakeUserRepo(&domain.User{UserID: 1, SubscribedVenues: []string{"Chemiefabrik"}})
	queue := &memQueue{}
	notifier := &recordingNotifier{}

	svc := NewService(repo, users, queue, zerolog.Nop())
	ctx := context.Background()
	if err := svc.DispatchNewConcerts(ctx, testNow); err != nil {
		t.Fatalf("диспетчеризация: %v", err)
	}
	if err := svc.DispatchNewConcerts(ctx, testNow); err != nil {
		t.Fatalf("диспетчеризация: %v", err)
	}
	if len(queue.jobs) != 2 {
		t.Fatalf("ожидалось 2 задачи в очереди, получено %d", len(queue.jobs))
	}

	drainQueue(t, queue, NewDeliverer(repo, users, notifier, zerolog.Nop()))
	if len(notifier.sent) != 1 {
		t.Fatalf("ожидалось 1 уведомление, отправлено %d", len(notifier.sent))
	}
}

func TestFailedDeliveryLeavesPairPending(t *testing.T) {
	concert := domain.Concert{ID: "cf-20300517-razors", Venue: "Chemiefabrik", Date: time.Date(2030, 5, 17, 20, 0, 0, 0, time.UTC)}
	repo := &fakeConcertRepo{concerts: []domain.Concert{concert}}
	users := newFakeUserRepo(&domain.User{UserID: 1, SubscribedVenues: []string{"Chemiefabrik"}})
	queue := &memQueue{}
	notifier := &recordingNotifier{fail: true}

	svc := NewService(repo, users, queue, zerolog.Nop())
	deliverer := NewDeliverer(repo, users, notifier, zerolog.Nop())
	ctx := context.Background()

	if err := svc.DispatchNewConcerts(ctx, testNow); err != nil {
		t.Fatalf("диспетчеризация: %v", err)
	}
	job := queue.jobs[0]
	queue.jobs = queue.jobs[1:]
	outcome, err := deliverer.Process(ctx, job)
	if err == nil || outcome != OutcomeRetry {
		t.Fatalf("ожидался OutcomeRetry с ошибкой, получено outcome=%v err=%v", outcome, err)
	}

	// Пара не отмечена, после восстановления транспорта уведомление уходит.
	notifier.fail = false
	outcome, err = deliverer.Process(ctx, job)
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("повторная доставка: outcome=%v err=%v", outcome, err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("ожидалось 1 уведомление, отправлено %d", len(notifier.sent))
	}
}

func TestVanishedConcertCompletesJob(t *testing.T) {
	repo := &fakeConcertRepo{}
	users := newFakeUserRepo(&domain.User{UserID: 1})
	deliverer := NewDeliverer(repo, users, &recordingNotifier{}, zerolog.Nop())

	job := domain.NotificationJob{ID: "j1", UserID: 1, ConcertID: "cf-20300517-gone", Kind: domain.NotificationNewConcert}
	outcome, err := deliverer.Process(context.Background(), job)
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("исчезнувший концерт должен завершать задачу: outcome=%v err=%v", outcome, err)
	}
}

func TestReminderDispatchHasNoDedup(t *testing.T) {
	loc := time.UTC
	now := time.Date(2030, 5, 16, 10, 0, 0, 0, loc)
	concert := domain.Concert{ID: "cf-20300517-razors", Venue: "Chemiefabrik", Date: time.Date(2030, 5, 17, 20, 0, 0, 0, loc)}
	repo := &fakeConcertRepo{concerts: []domain.Concert{concert}}
	users := newFakeUserRepo(&domain.User{UserID: 1, SubscribedConcerts: []string{concert.ID}})
	queue := &memQueue{}
	notifier := &recordingNotifier{}

	svc := NewService(repo, users, queue, zerolog.Nop())
	deliverer := NewDeliverer(repo, users, notifier, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.DispatchReminders(ctx, now); err != nil {
			t.Fatalf("диспетчеризация напоминаний: %v", err)
		}
		drainQueue(t, queue, deliverer)
	}

	if len(notifier.sent) != 2 {
		t.Fatalf("повторный триггер должен слать напоминание ещё раз, отправлено %d", len(notifier.sent))
	}
}

func TestReminderLocalDayBoundary(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	now := time.Date(2030, 5, 16, 10, 0, 0, 0, loc)
	// 2030-05-17 00:30 по локальному времени — это ещё 2030-05-16 22:30 UTC;
	// сравнение идёт по локальному календарю, концерт попадает в «завтра».
	justAfterMidnight := domain.Concert{ID: "cf-20300517-early", Venue: "Chemiefabrik", Date: time.Date(2030, 5, 16, 22, 30, 0, 0, time.UTC)}
	dayAfter := domain.Concert{ID: "cf-20300518-late", Venue: "Chemiefabrik", Date: time.Date(2030, 5, 18, 20, 0, 0, 0, loc)}
	repo := &fakeConcertRepo{concerts: []domain.Concert{justAfterMidnight, dayAfter}}
	users := newFakeUserRepo(&domain.User{UserID: 1, SubscribedConcerts: []string{justAfterMidnight.ID, dayAfter.ID}})
	queue := &memQueue{}

	svc := NewService(repo, users, queue, zerolog.Nop())
	if err := svc.DispatchReminders(context.Background(), now); err != nil {
		t.Fatalf("диспетчеризация напоминаний: %v", err)
	}

	if len(queue.jobs) != 1 {
		t.Fatalf("ожидалась 1 задача, получено %d", len(queue.jobs))
	}
	if queue.jobs[0].ConcertID != justAfterMidnight.ID {
		t.Fatalf("неверный концерт в напоминании: %s", queue.jobs[0].ConcertID)
	}
}
