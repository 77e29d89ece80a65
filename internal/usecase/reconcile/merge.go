package reconcile

import (
	"sort"
	"strings"
	"time"

	"tg-concert-bot/internal/domain"
)

// Result — итог слияния свежего скрейпа с прежним каноническим набором.
type Result struct {
	Concerts   []domain.Concert
	Migrations []domain.IDMigration
	// Malformed — события без извлекаемого идентификатора (нет даты или
	// группы), выброшенные из свежей партии.
	Malformed int
}

// Merge сливает прежний канонический набор со свежими событиями источников.
// Чистая функция: порядок шагов соответствует контракту сверки — отбросить
// записи отозванных схем, слить по каноническим идентификаторам с миграцией
// подписчиков, сохранить будущие концерты, пропавшие из скрейпа, удалить
// прошедшие, отсортировать по дате.
func Merge(previous []domain.Concert, fresh []domain.NormalizedEvent, sources []domain.SourceInfo, now time.Time) Result {
	var res Result

	retired := make([]string, 0)
	for _, src := range sources {
		retired = append(retired, src.LegacyPrefixes...)
	}

	index := make(map[string]domain.Concert, len(previous))
	order := make([]string, 0, len(previous))
	for _, c := range previous {
		if hasRetiredPrefix(c.ID, retired) {
			continue
		}
		index[c.ID] = c
		order = append(order, c.ID)
	}

	for _, e := range fresh {
		if e.Date.IsZero() {
			res.Malformed++
			continue
		}
		slug := Slug(e.FirstArtistName(), slugMaxLen)
		if slug == "" || e.Source.Prefix == "" {
			res.Malformed++
			continue
		}
		id := CanonicalID(e.Source.Prefix, e.Date, slug)

		var subscribers []int64
		if existing, ok := index[id]; ok {
			subscribers = existing.Subscribers
		} else if e.Source.LegacyIDs != nil {
			for _, legacyID := range e.Source.LegacyIDs(e.Date, slug) {
				legacy, ok := findByID(previous, legacyID)
				if !ok {
					continue
				}
				subscribers = unionSubscribers(subscribers, legacy.Subscribers)
				res.Migrations = append(res.Migrations, domain.IDMigration{Old: legacyID, New: id})
			}
		}

		if _, ok := index[id]; !ok {
			order = append(order, id)
		}
		index[id] = domain.Concert{
			ID:          id,
			Title:       e.Title,
			Venue:       e.Source.Venue,
			Date:        e.Date,
			Price:       e.Price,
			PosterURL:   e.PosterURL,
			Description: e.Description,
			TicketURL:   e.TicketURL,
			StartTime:   e.StartTime,
			DoorTime:    e.DoorTime,
			Artists:     e.Artists,
			Subscribers: subscribers,
		}
	}

	concerts := make([]domain.Concert, 0, len(index))
	for _, id := range order {
		c := index[id]
		if c.Date.Before(now) {
			continue
		}
		concerts = append(concerts, c)
	}
	sort.SliceStable(concerts, func(i, j int) bool { return concerts[i].Date.Before(concerts[j].Date) })

	res.Concerts = concerts
	return res
}

func hasRetiredPrefix(id string, retired []string) bool {
	for _, prefix := range retired {
		if prefix != "" && strings.HasPrefix(id, prefix+"-") {
			return true
		}
	}
	return false
}

func findByID(concerts []domain.Concert, id string) (domain.Concert, bool) {
	for _, c := range concerts {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Concert{}, false
}

func unionSubscribers(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, list := range [][]int64{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
