package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const eventAPIPayload = `{
  "events": {
    "others": [
      {
        "id": 4242,
        "datum": "So., 17.05.2030",
        "beginn": "20:00",
        "einlass": "19:00",
        "titel": "Die Toten Hosen",
        "preis": "45 €",
        "img": "/media/poster.jpg",
        "tickets_url": "https://tickets.example/dth",
        "teaser": "<p>Punkrock <b>live</b></p>"
      },
      {
        "id": 4243,
        "datum": "kaputt",
        "beginn": "20:00",
        "titel": "Broken Date"
      }
    ]
  }
}`

func TestEventAPIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(eventAPIPayload))
	}))
	defer srv.Close()

	loc := time.FixedZone("CET", 60*60)
	source := NewAlterSchlachthof(resty.New(), srv.URL+"/api/getEvents", loc, zerolog.Nop())

	events := source.Fetch(context.Background())
	if len(events) != 1 {
		t.Fatalf("ожидалось 1 событие, получено %d", len(events))
	}

	ev := events[0]
	want := time.Date(2030, 5, 17, 20, 0, 0, 0, loc)
	if !ev.Date.Equal(want) {
		t.Fatalf("неверная дата: %s", ev.Date)
	}
	if ev.Venue != "Alter Schlachthof" {
		t.Fatalf("неверная площадка: %q", ev.Venue)
	}
	if ev.Description != "Punkrock live" {
		t.Fatalf("теги должны быть вычищены: %q", ev.Description)
	}
	if ev.PosterURL != srv.URL+"/media/poster.jpg" {
		t.Fatalf("относительный путь афиши должен стать абсолютным: %q", ev.PosterURL)
	}
	if len(ev.Artists) != 1 || ev.Artists[0].Name != "Die Toten Hosen" || ev.Artists[0].Link != "https://tickets.example/dth" {
		t.Fatalf("неверные артисты: %+v", ev.Artists)
	}
	if ev.StartTime != "20:00" || ev.DoorTime != "19:00" {
		t.Fatalf("неверное время: start=%q door=%q", ev.StartTime, ev.DoorTime)
	}
}

func TestEventAPIDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>wartung</html>"))
	}))
	defer srv.Close()

	source := NewJungeGarde(resty.New(), srv.URL, time.UTC, zerolog.Nop())
	if events := source.Fetch(context.Background()); events != nil {
		t.Fatalf("нечитаемый ответ должен отдавать nil, получено %d событий", len(events))
	}
}

func TestParseAPIDate(t *testing.T) {
	cases := []struct {
		datum  string
		beginn string
		ok     bool
	}{
		{"So., 17.05.2030", "20:00", true},
		{"17.05.2030", "20:00", true},
		{"17.05.2030", "", false},
		{"", "20:00", false},
	}
	for _, tc := range cases {
		if _, ok := parseAPIDate(tc.datum, tc.beginn, time.UTC); ok != tc.ok {
			t.Fatalf("%q/%q: ожидалось ok=%v", tc.datum, tc.beginn, tc.ok)
		}
	}
}
