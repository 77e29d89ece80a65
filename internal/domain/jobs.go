package domain

import (
	"context"
	"time"
)

// NotificationKind различает два триггера диспетчера.
type NotificationKind string

const (
	// NotificationNewConcert — новый концерт на площадке из подписок.
	NotificationNewConcert NotificationKind = "new_concert"
	// NotificationReminder — напоминание о концерте завтра.
	NotificationReminder NotificationKind = "reminder"
)

// NotificationJob — обязательство уведомить пару (пользователь, концерт).
type NotificationJob struct {
	ID        string           `json:"job_id"`
	UserID    int64            `json:"user_id"`
	ConcertID string           `json:"concert_id"`
	Kind      NotificationKind `json:"kind"`
	Attempt   int              `json:"attempt"`
	CreatedAt time.Time        `json:"created_at"`
}

// NotifyAckFunc подтверждает обработку или возвращает задачу в очередь.
type NotifyAckFunc func(success bool) error

// NotifyQueue — очередь обязательств между диспетчером и воркером доставки.
type NotifyQueue interface {
	Enqueue(ctx context.Context, job NotificationJob) error
	Receive(ctx context.Context) (NotificationJob, NotifyAckFunc, error)
}
