package sources

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
)

// Chemiefabrik парсит афишу клуба из elementor-вёрстки сайта.
type Chemiefabrik struct {
	client *resty.Client
	url    string
	loc    *time.Location
	log    zerolog.Logger
}

// NewChemiefabrik создаёт источник Chemiefabrik.
func NewChemiefabrik(client *resty.Client, url string, loc *time.Location, log zerolog.Logger) *Chemiefabrik {
	return &Chemiefabrik{client: client, url: url, loc: loc, log: log}
}

// Info реализует domain.Source. Прежняя схема идентификаторов
// chemiefabrik-YYYY-MM-DD-slug отозвана: записи под ней выбрасываются, а
// подписки переносятся на новые идентификаторы.
func (c *Chemiefabrik) Info() domain.SourceInfo {
	return domain.SourceInfo{
		Prefix:         "cf",
		Venue:          "Chemiefabrik",
		LegacyPrefixes: []string{"chemiefabrik"},
		LegacyIDs: func(date time.Time, slug string) []string {
			return []string{fmt.Sprintf("chemiefabrik-%s-%s", date.Format("2006-01-02"), slug)}
		},
	}
}

// Fetch выгружает и нормализует события. Ошибки сети и парсинга не
// пробрасываются: источник логирует, увеличивает счётчик и возвращает nil,
// чтобы сверка прошла по остальным площадкам.
func (c *Chemiefabrik) Fetch(ctx context.Context) []domain.NormalizedEvent {
	start := time.Now()
	resp, err := c.client.R().SetContext(ctx).Get(c.url)
	metrics.ObserveNetworkRequest("sources", "chemiefabrik_fetch", "chemiefabrik", start, err)
	if err != nil {
		metrics.SourceFetchErrors.WithLabelValues("chemiefabrik").Inc()
		c.log.Error().Err(err).Msg("sources: chemiefabrik fetch failed")
		return nil
	}
	if resp.StatusCode() >= 300 {
		metrics.SourceFetchErrors.WithLabelValues("chemiefabrik").Inc()
		c.log.Error().Int("status", resp.StatusCode()).Msg("sources: chemiefabrik fetch failed")
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		metrics.SourceFetchErrors.WithLabelValues("chemiefabrik").Inc()
		c.log.Error().Err(err).Msg("sources: chemiefabrik parse failed")
		return nil
	}

	info := c.Info()
	var events []domain.NormalizedEvent
	doc.Find(".elementor-element-cdc7517").Each(func(_ int, sel *goquery.Selection) {
		rawDate := strings.TrimSpace(sel.Find(".elementor-element-93c9594 .jet-listing-dynamic-field__content").Text())
		doorTime := extractClock(sel.Find(".elementor-element-6c7315b").Text())
		startTime := extractClock(sel.Find(".elementor-element-c75cd6a").Text())

		vvk := strings.TrimSpace(sel.Find(".elementor-element-4df86c0 .jet-listing-dynamic-field__content").Text())
		ak := strings.TrimSpace(sel.Find(".elementor-element-307babc .jet-listing-dynamic-field__content").Text())

		var (
			titleParts []string
			artists    []domain.Artist
		)
		sel.Find(".elementor-element-adc63ed .jet-listing-dynamic-repeater__items .jet-listing-dynamic-repeater__item").Each(func(_ int, item *goquery.Selection) {
			link := item.Find(".bandlink")
			name := strings.TrimSpace(link.Text())
			href, _ := link.Attr("href")
			if href == "" {
				href = "#"
			}
			full := strings.TrimSpace(item.Text())
			if full != "" {
				titleParts = append(titleParts, full)
			}
			if name != "" {
				artists = append(artists, domain.Artist{Name: name, Link: href})
			}
		})

		title := strings.Join(titleParts, "\n")
		if title == "" || rawDate == "" {
			return
		}

		date, ok := parseChemieDate(rawDate, c.loc)
		if !ok {
			c.log.Warn().Str("raw", rawDate).Msg("sources: chemiefabrik date not parsed")
			return
		}
		if startTime != "" {
			if h, m, ok := splitClock(startTime); ok {
				date = time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, c.loc)
			}
		}

		description := strings.TrimSpace(sel.Find(".elementor-element-aa0c4be .jet-listing-dynamic-field__content").Text())
		poster, _ := sel.Find(".jet-listing-dynamic-image img").Attr("src")
		ticketURL, _ := sel.Find(".elementor-element-ff74167 a").Attr("href")

		events = append(events, domain.NormalizedEvent{
			Source:      info,
			Title:       title,
			Venue:       info.Venue,
			Date:        date,
			Price:       joinPrices(vvk, ak),
			PosterURL:   poster,
			Description: description,
			TicketURL:   ticketURL,
			StartTime:   startTime,
			DoorTime:    doorTime,
			Artists:     artists,
		})
	})

	return events
}

// Сайт пишет даты тремя способами: "Fr. 17.05.2030", "17.05.2030" и
// "17. 05. 30".
var chemieDateFormats = []*regexp.Regexp{
	regexp.MustCompile(`\w+\.\s*(\d{1,2})\.(\d{1,2})\.(\d{2,4})`),
	regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`),
	regexp.MustCompile(`(\d{1,2})\.\s*(\d{1,2})\.\s*(\d{2,4})`),
}

func parseChemieDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.Join(strings.Fields(raw), " ")
	for _, format := range chemieDateFormats {
		match := format.FindStringSubmatch(raw)
		if match == nil {
			continue
		}
		day, _ := strconv.Atoi(match[1])
		month, _ := strconv.Atoi(match[2])
		year, _ := strconv.Atoi(match[3])
		if year < 100 {
			year += 2000
		}
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc), true
	}
	return time.Time{}, false
}

var clockRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)

func extractClock(raw string) string {
	match := clockRe.FindStringSubmatch(raw)
	if match == nil {
		return ""
	}
	return match[1] + ":" + match[2]
}

func splitClock(clock string) (hour, minute int, ok bool) {
	match := clockRe.FindStringSubmatch(clock)
	if match == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(match[1])
	minute, _ = strconv.Atoi(match[2])
	return hour, minute, true
}

func joinPrices(vvk, ak string) string {
	switch {
	case vvk != "" && ak != "":
		return vvk + ", " + ak
	case vvk != "":
		return vvk
	case ak != "":
		return ak
	default:
		return ""
	}
}
