package bot

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-concert-bot/internal/adapters/telegram"
	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
)

// Sender отправляет карточки концертов: фото с подписью, если есть афиша,
// иначе обычное сообщение. Длинный текст режется по лимитам Telegram.
type Sender struct {
	bot *tgbotapi.BotAPI
	loc *time.Location
	log zerolog.Logger
}

// NewSender создаёт отправителя карточек.
func NewSender(api *tgbotapi.BotAPI, loc *time.Location, log zerolog.Logger) *Sender {
	return &Sender{bot: api, loc: loc, log: log}
}

// SendText отправляет обычное сообщение, при необходимости частями.
func (s *Sender) SendText(chatID int64, text string, keyboard any) error {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := s.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// SendCard отправляет карточку концерта с кнопкой избранного.
func (s *Sender) SendCard(chatID int64, concert domain.Concert, subscribed bool) error {
	text := FormatConcertMessage(concert, s.loc)
	keyboard := FavoriteKeyboard(concert.ID, subscribed)

	if concert.PosterURL == "" {
		parts := telegram.SplitMessage(text)
		for i, part := range parts {
			msg := tgbotapi.NewMessage(chatID, part)
			msg.ParseMode = tgbotapi.ModeHTML
			if i == len(parts)-1 {
				msg.ReplyMarkup = keyboard
			}
			start := time.Now()
			_, err := s.bot.Send(msg)
			metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
			if err != nil {
				return err
			}
		}
		return nil
	}

	caption, rest := telegram.SplitCaption(text)
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(concert.PosterURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	if len(rest) == 0 {
		photo.ReplyMarkup = keyboard
	}
	start := time.Now()
	_, err := s.bot.Send(photo)
	metrics.ObserveNetworkRequest("telegram_bot", "send_photo", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		return err
	}
	for i, part := range rest {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		if i == len(rest)-1 {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := s.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// Notifier доставляет фоновые уведомления о концертах.
type Notifier struct {
	sender *Sender
	users  domain.UserRepo
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier создаёт транспорт уведомлений.
func NewNotifier(sender *Sender, users domain.UserRepo) *Notifier {
	return &Notifier{sender: sender, users: users}
}

// SendConcert отправляет вводное сообщение триггера и карточку концерта.
func (n *Notifier) SendConcert(ctx context.Context, userID int64, concert domain.Concert, kind domain.NotificationKind) error {
	var prelude string
	switch kind {
	case domain.NotificationNewConcert:
		prelude = "🎵 New concert at " + concert.Venue + "!"
	case domain.NotificationReminder:
		prelude = "🔔 Reminder! You have a concert tomorrow:"
	}
	if prelude != "" {
		if err := n.sender.SendText(userID, prelude, nil); err != nil {
			return err
		}
	}
	subscribed, err := n.users.IsConcertSubscribed(ctx, userID, concert.ID)
	if err != nil {
		subscribed = false
	}
	return n.sender.SendCard(userID, concert, subscribed)
}
