package domain

import "time"

// Artist описывает участника концерта со ссылкой на его страницу.
type Artist struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// Concert представляет событие из канонического набора.
type Concert struct {
	ID          string
	Title       string
	Venue       string
	Date        time.Time
	Price       string
	PosterURL   string
	Description string
	TicketURL   string
	StartTime   string
	DoorTime    string
	Artists     []Artist
	// Subscribers выводится из users.subscribed_concerts и не хранится
	// отдельно на концерте.
	Subscribers []int64
}

// NormalizedEvent — событие площадки после нормализации источником,
// до вычисления канонического идентификатора.
type NormalizedEvent struct {
	Source      SourceInfo
	Title       string
	Venue       string
	Date        time.Time
	Price       string
	PosterURL   string
	Description string
	TicketURL   string
	StartTime   string
	DoorTime    string
	Artists     []Artist
}

// FirstArtistName возвращает имя первой группы; для площадок без списка
// артистов это заголовок события.
func (e NormalizedEvent) FirstArtistName() string {
	if len(e.Artists) > 0 && e.Artists[0].Name != "" {
		return e.Artists[0].Name
	}
	return e.Title
}

// SourceInfo описывает схему идентификаторов источника.
type SourceInfo struct {
	// Prefix — текущий префикс канонических идентификаторов, например "cf".
	Prefix string
	// Venue — имя площадки, под которым события попадают в канонический набор.
	Venue string
	// LegacyPrefixes — отозванные префиксы: записи предыдущих циклов с этими
	// префиксами выбрасываются перед слиянием.
	LegacyPrefixes []string
	// LegacyIDs возвращает идентификаторы, под которыми то же событие могло
	// быть сохранено прежней схемой. Пустой срез — миграция не требуется.
	LegacyIDs func(date time.Time, slug string) []string
}

// IDMigration фиксирует перенос подписок со старого идентификатора на новый.
type IDMigration struct {
	Old string
	New string
}

// TelegramProfile — данные профиля при первом контакте.
type TelegramProfile struct {
	Username  string
	FirstName string
	LastName  string
}

// User описывает пользователя бота и его подписки.
type User struct {
	UserID             int64
	Username           string
	FirstName          string
	LastName           string
	SubscribedConcerts []string
	SubscribedVenues   []string
	NotifiedConcerts   []string
	CreatedAt          time.Time
}
