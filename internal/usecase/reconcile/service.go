package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
)

// Service запускает цикл сверки: выгрузка со всех площадок, слияние с прежним
// набором и атомарная замена канонического набора.
type Service struct {
	repo    domain.ConcertRepo
	sources []domain.Source
	timeout time.Duration
	log     zerolog.Logger
}

// NewService создаёт сервис сверки.
func NewService(repo domain.ConcertRepo, sources []domain.Source, timeout time.Duration, log zerolog.Logger) *Service {
	return &Service{repo: repo, sources: sources, timeout: timeout, log: log}
}

// Run выполняет один цикл сверки. Сбой одной площадки не трогает данные
// остальных; полностью пустой скрейп не стирает известные будущие концерты.
func (s *Service) Run(ctx context.Context) error {
	start := time.Now()

	previous, err := s.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("чтение прежнего набора: %w", err)
	}

	fresh := s.fetchAll(ctx)

	infos := make([]domain.SourceInfo, 0, len(s.sources))
	for _, src := range s.sources {
		infos = append(infos, src.Info())
	}

	res := Merge(previous, fresh, infos, time.Now())
	if res.Malformed > 0 {
		s.log.Warn().Int("events", res.Malformed).Msg("reconcile: события без извлекаемого идентификатора выброшены")
	}

	if err := s.repo.ReplaceAll(ctx, res.Concerts, res.Migrations); err != nil {
		return fmt.Errorf("замена канонического набора: %w", err)
	}

	metrics.ConcertsCanonical.Set(float64(len(res.Concerts)))
	metrics.ReconcileSeconds.Observe(time.Since(start).Seconds())
	s.log.Info().
		Int("previous", len(previous)).
		Int("fresh", len(fresh)).
		Int("canonical", len(res.Concerts)).
		Int("migrations", len(res.Migrations)).
		Msg("reconcile: цикл завершён")
	return nil
}

// fetchAll опрашивает площадки параллельно с ограниченным таймаутом на каждую.
func (s *Service) fetchAll(ctx context.Context) []domain.NormalizedEvent {
	var (
		mu     sync.Mutex
		events []domain.NormalizedEvent
		wg     sync.WaitGroup
	)
	for _, src := range s.sources {
		wg.Add(1)
		go func(src domain.Source) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			batch := src.Fetch(fetchCtx)
			metrics.SourceEventsFetched.WithLabelValues(src.Info().Prefix).Add(float64(len(batch)))
			mu.Lock()
			events = append(events, batch...)
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	return events
}
