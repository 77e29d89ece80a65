package sources

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
)

// EventAPI — общий адаптер площадок с одинаковым JSON-эндпоинтом афиши
// (Alter Schlachthof и Junge Garde).
type EventAPI struct {
	client  *resty.Client
	apiURL  string
	baseURL string
	info    domain.SourceInfo
	loc     *time.Location
	log     zerolog.Logger
}

// NewAlterSchlachthof создаёт источник Alter Schlachthof.
func NewAlterSchlachthof(client *resty.Client, apiURL string, loc *time.Location, log zerolog.Logger) *EventAPI {
	return newEventAPI(client, apiURL, domain.SourceInfo{
		Prefix:         "as",
		Venue:          "Alter Schlachthof",
		LegacyPrefixes: []string{"alter-schlachthof"},
	}, loc, log)
}

// NewJungeGarde создаёт источник Junge Garde.
func NewJungeGarde(client *resty.Client, apiURL string, loc *time.Location, log zerolog.Logger) *EventAPI {
	return newEventAPI(client, apiURL, domain.SourceInfo{
		Prefix:         "jg",
		Venue:          "Junge Garde",
		LegacyPrefixes: []string{"junge-garde"},
	}, loc, log)
}

func newEventAPI(client *resty.Client, apiURL string, info domain.SourceInfo, loc *time.Location, log zerolog.Logger) *EventAPI {
	return &EventAPI{
		client:  client,
		apiURL:  apiURL,
		baseURL: originOf(apiURL),
		info:    info,
		loc:     loc,
		log:     log,
	}
}

// Info реализует domain.Source. Прежние идентификаторы этих площадок
// строились на внутренних номерах API и по дате со слагом не
// восстанавливаются, поэтому LegacyIDs нет: записи прежней схемы
// выбрасываются без переноса подписок.
func (e *EventAPI) Info() domain.SourceInfo {
	return e.info
}

type apiEvent struct {
	ID         json.Number `json:"id"`
	Datum      string      `json:"datum"`
	Beginn     string      `json:"beginn"`
	Einlass    string      `json:"einlass"`
	Titel      string      `json:"titel"`
	Preis      string      `json:"preis"`
	Img        string      `json:"img"`
	TicketsURL string      `json:"tickets_url"`
	Teaser     string      `json:"teaser"`
	Facebook   string      `json:"facebook"`
}

type apiResponse struct {
	Events struct {
		Others []apiEvent `json:"others"`
	} `json:"events"`
}

// Fetch выгружает афишу. Ошибки не пробрасываются, см. domain.Source.
func (e *EventAPI) Fetch(ctx context.Context) []domain.NormalizedEvent {
	label := e.info.Prefix

	start := time.Now()
	resp, err := e.client.R().SetContext(ctx).Get(e.apiURL)
	metrics.ObserveNetworkRequest("sources", "event_api_fetch", e.info.Venue, start, err)
	if err != nil {
		metrics.SourceFetchErrors.WithLabelValues(label).Inc()
		e.log.Error().Err(err).Str("venue", e.info.Venue).Msg("sources: event api fetch failed")
		return nil
	}
	if resp.StatusCode() >= 300 {
		metrics.SourceFetchErrors.WithLabelValues(label).Inc()
		e.log.Error().Int("status", resp.StatusCode()).Str("venue", e.info.Venue).Msg("sources: event api fetch failed")
		return nil
	}

	var payload apiResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		metrics.SourceFetchErrors.WithLabelValues(label).Inc()
		e.log.Error().Err(err).Str("venue", e.info.Venue).Msg("sources: event api decode failed")
		return nil
	}

	var events []domain.NormalizedEvent
	for _, raw := range payload.Events.Others {
		date, ok := parseAPIDate(raw.Datum, raw.Beginn, e.loc)
		if !ok {
			e.log.Warn().Str("venue", e.info.Venue).Str("datum", raw.Datum).Msg("sources: event api date not parsed")
			continue
		}

		title := strings.TrimSpace(raw.Titel)
		if title == "" {
			continue
		}

		artistLink := raw.TicketsURL
		if artistLink == "" {
			artistLink = raw.Facebook
		}
		if artistLink == "" {
			artistLink = "#"
		}

		events = append(events, domain.NormalizedEvent{
			Source:      e.info,
			Title:       title,
			Venue:       e.info.Venue,
			Date:        date,
			Price:       strings.TrimSpace(raw.Preis),
			PosterURL:   e.absoluteURL(raw.Img),
			Description: stripTags(raw.Teaser),
			TicketURL:   raw.TicketsURL,
			StartTime:   strings.TrimSpace(raw.Beginn),
			DoorTime:    strings.TrimSpace(raw.Einlass),
			Artists:     []domain.Artist{{Name: title, Link: artistLink}},
		})
	}

	return events
}

// parseAPIDate разбирает пару «So., 17.05.2030» + «20:00».
func parseAPIDate(datum, beginn string, loc *time.Location) (time.Time, bool) {
	datum = leadingWordsRe.ReplaceAllString(datum, "")
	dateParts := strings.Split(datum, ".")
	timeParts := strings.Split(beginn, ":")
	if len(dateParts) != 3 || len(timeParts) != 2 {
		return time.Time{}, false
	}
	day, err1 := strconv.Atoi(strings.TrimSpace(dateParts[0]))
	month, err2 := strconv.Atoi(strings.TrimSpace(dateParts[1]))
	year, err3 := strconv.Atoi(strings.TrimSpace(dateParts[2]))
	hour, err4 := strconv.Atoi(strings.TrimSpace(timeParts[0]))
	minute, err5 := strconv.Atoi(strings.TrimSpace(timeParts[1]))
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc), true
}

var (
	leadingWordsRe = regexp.MustCompile(`^[A-Za-z,\s.]+`)
	tagRe          = regexp.MustCompile(`<[^>]+>`)
)

func stripTags(html string) string {
	return strings.TrimSpace(tagRe.ReplaceAllString(html, ""))
}

func (e *EventAPI) absoluteURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return e.baseURL + path
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
