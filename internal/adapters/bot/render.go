package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-concert-bot/internal/domain"
)

// FormatConcertMessage собирает HTML-карточку концерта.
func FormatConcertMessage(concert domain.Concert, loc *time.Location) string {
	price := concert.Price
	if price == "" {
		price = "Price not specified"
	}

	var artists string
	if len(concert.Artists) > 0 {
		lines := make([]string, 0, len(concert.Artists))
		for _, artist := range concert.Artists {
			link := artist.Link
			if link == "" {
				link = "#"
			}
			lines = append(lines, fmt.Sprintf(`• <a href="%s">%s</a>`, html.EscapeString(link), html.EscapeString(artist.Name)))
		}
		artists = strings.Join(lines, "\n")
	} else {
		artists = "No artists available"
	}

	parts := []string{
		fmt.Sprintf("🎵 <b>%s</b>", html.EscapeString(concert.Title)),
		fmt.Sprintf("📅 %s", concert.Date.In(loc).Format("02.01.2006, 15:04")),
		fmt.Sprintf("📍 %s", html.EscapeString(concert.Venue)),
		fmt.Sprintf("💰 %s", html.EscapeString(price)),
		"",
		"<b>Artists:</b>",
		artists,
	}
	return strings.Join(parts, "\n")
}

// FavoriteKeyboard — кнопка добавления/снятия концерта из избранного.
func FavoriteKeyboard(concertID string, subscribed bool) *tgbotapi.InlineKeyboardMarkup {
	var button tgbotapi.InlineKeyboardButton
	if subscribed {
		button = tgbotapi.NewInlineKeyboardButtonData("❌ Remove from favorites", "u_"+concertID)
	} else {
		button = tgbotapi.NewInlineKeyboardButtonData("⭐ Add to favorites", "f_"+concertID)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(button))
	return &markup
}

// VenueListKeyboard — список площадок с отметками подписки.
func VenueListKeyboard(venues []string, subscribed []string) *tgbotapi.InlineKeyboardMarkup {
	subscribedSet := make(map[string]struct{}, len(subscribed))
	for _, v := range subscribed {
		subscribedSet[v] = struct{}{}
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(venues))
	for _, venue := range venues {
		label := venue
		if _, ok := subscribedSet[venue]; ok {
			label = venue + " ✅"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "venue_"+venue),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// VenueCardKeyboard — карточка площадки: подписка и просмотр афиши.
func VenueCardKeyboard(venue string, subscribed bool) *tgbotapi.InlineKeyboardMarkup {
	var toggle tgbotapi.InlineKeyboardButton
	if subscribed {
		toggle = tgbotapi.NewInlineKeyboardButtonData("❌ Unsubscribe from venue", "unsub_venue_"+venue)
	} else {
		toggle = tgbotapi.NewInlineKeyboardButtonData("🔔 Subscribe to venue", "sub_venue_"+venue)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(toggle),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Show concerts", "show_venue_"+venue),
			tgbotapi.NewInlineKeyboardButtonData("📅 Next 7 Days", "next7_venue_"+venue),
		),
	)
	return &markup
}

// MainKeyboard — постоянная клавиатура главного меню.
func MainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuAllConcerts)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuByLocation)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuFavorites)),
	)
	keyboard.ResizeKeyboard = true
	return keyboard
}
