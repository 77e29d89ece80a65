package reconcile

import (
	"testing"
	"time"

	"tg-concert-bot/internal/domain"
)

var testSource = domain.SourceInfo{
	Prefix:         "cf",
	Venue:          "Chemiefabrik",
	LegacyPrefixes: []string{"chemiefabrik"},
	LegacyIDs: func(date time.Time, slug string) []string {
		return []string{"chemiefabrik-" + date.Format("2006-01-02") + "-" + slug}
	},
}

var apiSource = domain.SourceInfo{
	Prefix: "as",
	Venue:  "Alter Schlachthof",
}

func futureDate(days int) time.Time {
	return time.Now().AddDate(0, 0, days).Truncate(time.Hour)
}

func freshEvent(src domain.SourceInfo, artist string, date time.Time) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Source:  src,
		Title:   artist + " live",
		Date:    date,
		Price:   "10 EUR",
		Artists: []domain.Artist{{Name: artist, Link: "https://example.org"}},
	}
}

func TestMergeIdentityStability(t *testing.T) {
	date := futureDate(7)
	first := Merge(nil, []domain.NormalizedEvent{freshEvent(testSource, "Razors", date)}, []domain.SourceInfo{testSource}, time.Now())
	second := Merge(nil, []domain.NormalizedEvent{{
		Source:  testSource,
		Title:   "совсем другой заголовок",
		Date:    date,
		Price:   "12 EUR",
		Artists: []domain.Artist{{Name: "Razors"}},
	}}, []domain.SourceInfo{testSource}, time.Now())

	if len(first.Concerts) != 1 || len(second.Concerts) != 1 {
		t.Fatalf("ожидали по одному концерту в каждом прогоне")
	}
	if first.Concerts[0].ID != second.Concerts[0].ID {
		t.Fatalf("идентификатор нестабилен: %q != %q", first.Concerts[0].ID, second.Concerts[0].ID)
	}
}

func TestMergePreservesSubscribersAcrossMigration(t *testing.T) {
	date := futureDate(10)
	slug := Slug("Razors", slugMaxLen)
	legacyID := "chemiefabrik-" + date.Format("2006-01-02") + "-" + slug
	previous := []domain.Concert{{
		ID:          legacyID,
		Venue:       "Chemiefabrik",
		Date:        date,
		Subscribers: []int64{1, 2},
	}}

	res := Merge(previous, []domain.NormalizedEvent{freshEvent(testSource, "Razors", date)}, []domain.SourceInfo{testSource}, time.Now())

	if len(res.Concerts) != 1 {
		t.Fatalf("ожидали один концерт, получили %d", len(res.Concerts))
	}
	got := res.Concerts[0]
	if got.ID == legacyID {
		t.Fatalf("ожидали новый идентификатор вместо устаревшего")
	}
	if !containsAll(got.Subscribers, 1, 2) {
		t.Fatalf("подписчики потеряны при миграции: %v", got.Subscribers)
	}
	if len(res.Migrations) != 1 || res.Migrations[0].Old != legacyID || res.Migrations[0].New != got.ID {
		t.Fatalf("ожидали миграцию %s -> %s, получили %v", legacyID, got.ID, res.Migrations)
	}
}

func TestMergeKeepsSubscribersOnUpdate(t *testing.T) {
	date := futureDate(3)
	slug := Slug("Razors", slugMaxLen)
	id := CanonicalID("cf", date, slug)
	previous := []domain.Concert{{ID: id, Venue: "Chemiefabrik", Date: date, Price: "old", Subscribers: []int64{7}}}

	res := Merge(previous, []domain.NormalizedEvent{freshEvent(testSource, "Razors", date)}, []domain.SourceInfo{testSource}, time.Now())

	if len(res.Concerts) != 1 {
		t.Fatalf("ожидали один концерт")
	}
	if res.Concerts[0].Price != "10 EUR" {
		t.Fatalf("свежие поля должны перекрывать прежние")
	}
	if !containsAll(res.Concerts[0].Subscribers, 7) {
		t.Fatalf("подписчики не сохранились: %v", res.Concerts[0].Subscribers)
	}
	if len(res.Migrations) != 0 {
		t.Fatalf("миграция не нужна при совпадении идентификаторов")
	}
}

func TestMergeEmptyScrapeKeepsFutureConcerts(t *testing.T) {
	now := time.Now()
	previous := []domain.Concert{
		{ID: "as-20300101-demo", Venue: "Alter Schlachthof", Date: now.AddDate(0, 0, 30), Subscribers: []int64{5}},
		{ID: "as-20200101-old", Venue: "Alter Schlachthof", Date: now.AddDate(0, 0, -30)},
	}

	res := Merge(previous, nil, []domain.SourceInfo{apiSource}, now)

	if len(res.Concerts) != 1 {
		t.Fatalf("ожидали ровно будущее подмножество, получили %d", len(res.Concerts))
	}
	if res.Concerts[0].ID != "as-20300101-demo" {
		t.Fatalf("сохранился не тот концерт: %s", res.Concerts[0].ID)
	}
	if !containsAll(res.Concerts[0].Subscribers, 5) {
		t.Fatalf("подписчики потеряны при пустом скрейпе")
	}
}

func TestMergePrunesPastConcerts(t *testing.T) {
	now := time.Now()
	fresh := []domain.NormalizedEvent{freshEvent(testSource, "Gone", now.AddDate(0, 0, -1))}
	previous := []domain.Concert{{ID: "cf-20200101-dead", Venue: "Chemiefabrik", Date: now.AddDate(0, 0, -400)}}

	res := Merge(previous, fresh, []domain.SourceInfo{testSource}, now)

	if len(res.Concerts) != 0 {
		t.Fatalf("прошедшие концерты должны быть удалены, получили %d", len(res.Concerts))
	}
}

func TestMergeDropsMalformedEvents(t *testing.T) {
	res := Merge(nil, []domain.NormalizedEvent{
		{Source: testSource, Title: "без даты", Artists: []domain.Artist{{Name: "X"}}},
		{Source: testSource, Date: futureDate(1), Title: "***", Artists: []domain.Artist{{Name: "---"}}},
	}, []domain.SourceInfo{testSource}, time.Now())

	if len(res.Concerts) != 0 {
		t.Fatalf("некорректные события не должны попадать в набор")
	}
	if res.Malformed != 2 {
		t.Fatalf("ожидали 2 выброшенных события, получили %d", res.Malformed)
	}
}

func TestMergeSortsByDate(t *testing.T) {
	res := Merge(nil, []domain.NormalizedEvent{
		freshEvent(testSource, "Later", futureDate(20)),
		freshEvent(testSource, "Sooner", futureDate(2)),
		freshEvent(apiSource, "Middle", futureDate(9)),
	}, []domain.SourceInfo{testSource, apiSource}, time.Now())

	if len(res.Concerts) != 3 {
		t.Fatalf("ожидали 3 концерта, получили %d", len(res.Concerts))
	}
	for i := 1; i < len(res.Concerts); i++ {
		if res.Concerts[i].Date.Before(res.Concerts[i-1].Date) {
			t.Fatalf("набор не отсортирован по дате")
		}
	}
}

func TestMergeDiscardsRetiredScheme(t *testing.T) {
	now := time.Now()
	previous := []domain.Concert{{
		ID:    "chemiefabrik-2030-01-01-ghost",
		Venue: "Chemiefabrik",
		Date:  now.AddDate(0, 0, 60),
	}}

	res := Merge(previous, nil, []domain.SourceInfo{testSource}, now)

	if len(res.Concerts) != 0 {
		t.Fatalf("записи отозванной схемы должны выбрасываться даже без свежих данных")
	}
}

func containsAll(list []int64, want ...int64) bool {
	set := make(map[int64]struct{}, len(list))
	for _, id := range list {
		set[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
