package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-concert-bot/internal/domain"
	"tg-concert-bot/internal/infra/metrics"
	"tg-concert-bot/internal/usecase/reconcile"
	"tg-concert-bot/internal/usecase/subscriptions"
)

const (
	menuAllConcerts = "🎵 View all concerts"
	menuByLocation  = "📍 Concerts by location"
	menuFavorites   = "⭐ Favorites"
)

// Handler обслуживает апдейты бота.
type Handler struct {
	bot         *tgbotapi.BotAPI
	sender      *Sender
	log         zerolog.Logger
	subsUC      *subscriptions.Service
	reconcileUC *reconcile.Service
	concerts    domain.ConcertRepo
	loc         *time.Location
	listLimit   int
}

// NewHandler создаёт обработчик.
func NewHandler(api *tgbotapi.BotAPI, sender *Sender, log zerolog.Logger, subsUC *subscriptions.Service, reconcileUC *reconcile.Service, concerts domain.ConcertRepo, loc *time.Location, listLimit int) *Handler {
	return &Handler{
		bot:         api,
		sender:      sender,
		log:         log,
		subsUC:      subsUC,
		reconcileUC: reconcileUC,
		concerts:    concerts,
		loc:         loc,
		listLimit:   listLimit,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(ctx, msg)
	case text == menuAllConcerts:
		h.handleAllConcerts(ctx, msg.Chat.ID, msg.From.ID)
	case text == menuByLocation:
		h.handleVenueList(ctx, msg.Chat.ID, msg.From.ID)
	case text == menuFavorites:
		h.handleFavorites(ctx, msg.Chat.ID, msg.From.ID)
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	profile := domain.TelegramProfile{
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	}
	if err := h.subsUC.Register(ctx, msg.From.ID, profile); err != nil {
		h.log.Error().Err(err).Int64("user", msg.From.ID).Msg("bot: register failed")
		h.reply(msg.Chat.ID, "There was an error. Please try again later.", nil)
		return
	}
	h.reply(msg.Chat.ID, "Hello! I am a concert tracking bot. How can I help you?", MainKeyboard())
}

func (h *Handler) handleAllConcerts(ctx context.Context, chatID, userID int64) {
	h.reply(chatID, "Loading concerts list...", nil)
	if err := h.reconcileUC.Run(ctx); err != nil {
		h.log.Error().Err(err).Msg("bot: on-demand reconcile failed")
	}
	concerts, err := h.concerts.ListUpcoming(ctx, time.Now(), h.listLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: list concerts failed")
		h.reply(chatID, "There was an error loading concerts. Please try again later.", nil)
		return
	}
	if len(concerts) == 0 {
		h.reply(chatID, "No concerts available at the moment.", nil)
		return
	}
	h.sendCards(ctx, chatID, userID, concerts)
}

func (h *Handler) handleVenueList(ctx context.Context, chatID, userID int64) {
	venues, err := h.concerts.ListVenues(ctx, time.Now())
	if err != nil {
		h.log.Error().Err(err).Msg("bot: list venues failed")
		h.reply(chatID, "There was an error loading venues. Please try again later.", nil)
		return
	}
	if len(venues) == 0 {
		h.reply(chatID, "No venues available at the moment.", nil)
		return
	}
	subscribed, err := h.subsUC.SubscribedVenues(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.log.Error().Err(err).Int64("user", userID).Msg("bot: subscribed venues failed")
	}
	h.reply(chatID, "Select a venue (✅ - subscribed to notifications):", VenueListKeyboard(venues, subscribed))
}

func (h *Handler) handleFavorites(ctx context.Context, chatID, userID int64) {
	favorites, err := h.subsUC.FavoriteConcerts(ctx, userID, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.reply(chatID, "You have no favorite concerts yet.", nil)
			return
		}
		h.log.Error().Err(err).Int64("user", userID).Msg("bot: favorites failed")
		h.reply(chatID, "There was an error fetching your favorite concerts. Please try again later.", nil)
		return
	}
	if len(favorites) == 0 {
		h.reply(chatID, "You have no upcoming favorite concerts.", nil)
		return
	}
	h.sendCards(ctx, chatID, userID, favorites)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		return
	}
	data := cb.Data
	userID := cb.From.ID
	chatID := cb.Message.Chat.ID

	switch {
	case strings.HasPrefix(data, "sub_venue_"):
		h.toggleVenue(ctx, cb, strings.TrimPrefix(data, "sub_venue_"), true)
	case strings.HasPrefix(data, "unsub_venue_"):
		h.toggleVenue(ctx, cb, strings.TrimPrefix(data, "unsub_venue_"), false)
	case strings.HasPrefix(data, "show_venue_"):
		h.showVenueConcerts(ctx, cb, strings.TrimPrefix(data, "show_venue_"), 0)
	case strings.HasPrefix(data, "next7_venue_"):
		h.showVenueConcerts(ctx, cb, strings.TrimPrefix(data, "next7_venue_"), 7*24*time.Hour)
	case strings.HasPrefix(data, "venue_"):
		h.showVenueCard(ctx, cb, strings.TrimPrefix(data, "venue_"))
	case strings.HasPrefix(data, "f_"):
		h.toggleFavorite(ctx, cb, strings.TrimPrefix(data, "f_"), true)
	case strings.HasPrefix(data, "u_"):
		h.toggleFavorite(ctx, cb, strings.TrimPrefix(data, "u_"), false)
	default:
		h.log.Debug().Str("data", data).Int64("user", userID).Int64("chat", chatID).Msg("bot: unknown callback")
		h.answer(cb.ID, "", false)
	}
}

func (h *Handler) showVenueCard(ctx context.Context, cb *tgbotapi.CallbackQuery, venue string) {
	subscribed, err := h.subsUC.IsVenueSubscribed(ctx, cb.From.ID, venue)
	if err != nil {
		h.log.Error().Err(err).Str("venue", venue).Msg("bot: venue card failed")
		h.answer(cb.ID, "An error occurred. Please try again later.", true)
		return
	}
	text := "Venue: " + venue
	if subscribed {
		text += "\n✅ You are subscribed to notifications"
	}
	h.editMessage(cb, text, VenueCardKeyboard(venue, subscribed))
	h.answer(cb.ID, "", false)
}

func (h *Handler) toggleVenue(ctx context.Context, cb *tgbotapi.CallbackQuery, venue string, subscribe bool) {
	if _, err := h.subsUC.SetVenueSubscription(ctx, cb.From.ID, venue, subscribe); err != nil {
		h.log.Error().Err(err).Str("venue", venue).Msg("bot: venue toggle failed")
		h.answer(cb.ID, "An error occurred. Please try again later.", true)
		return
	}
	text := "Venue: " + venue
	if subscribe {
		text += "\n✅ You are subscribed to notifications"
		h.answer(cb.ID, "Subscribed to notifications for "+venue+"!", false)
	} else {
		h.answer(cb.ID, "Unsubscribed from notifications for "+venue, false)
	}
	h.editMessage(cb, text, VenueCardKeyboard(venue, subscribe))
}

func (h *Handler) showVenueConcerts(ctx context.Context, cb *tgbotapi.CallbackQuery, venue string, window time.Duration) {
	now := time.Now()
	concerts, err := h.concerts.ListByVenue(ctx, venue, now)
	if err != nil {
		h.log.Error().Err(err).Str("venue", venue).Msg("bot: venue concerts failed")
		h.answer(cb.ID, "An error occurred. Please try again later.", true)
		return
	}
	if window > 0 {
		until := now.Add(window)
		filtered := concerts[:0]
		for _, c := range concerts {
			if !c.Date.After(until) {
				filtered = append(filtered, c)
			}
		}
		concerts = filtered
	}
	if len(concerts) == 0 {
		if window > 0 {
			h.answer(cb.ID, "No concerts found for the next 7 days at "+venue+".", true)
		} else {
			h.answer(cb.ID, "No upcoming concerts found for "+venue+".", true)
		}
		return
	}
	h.answer(cb.ID, "", false)
	h.sendCards(ctx, cb.Message.Chat.ID, cb.From.ID, concerts)
}

func (h *Handler) toggleFavorite(ctx context.Context, cb *tgbotapi.CallbackQuery, concertID string, subscribe bool) {
	changed, err := h.subsUC.SetConcertSubscription(ctx, cb.From.ID, concertID, subscribe)
	if err != nil {
		if errors.Is(err, subscriptions.ErrConcertNotFound) {
			h.answer(cb.ID, "This concert is no longer available.", true)
			return
		}
		h.log.Error().Err(err).Str("concert", concertID).Msg("bot: favorite toggle failed")
		h.answer(cb.ID, "An error occurred. Please try again later.", true)
		return
	}
	if !changed {
		if subscribe {
			h.answer(cb.ID, "You are already subscribed to this concert.", true)
		} else {
			h.answer(cb.ID, "You are not subscribed to this concert.", true)
		}
		return
	}
	if subscribe {
		h.answer(cb.ID, "Concert added to favorites!", false)
	} else {
		h.answer(cb.ID, "Concert removed from favorites!", false)
	}

	concert, err := h.concerts.GetByID(ctx, concertID)
	if err != nil {
		return
	}
	h.updateCard(cb.Message, concert, subscribe)
}

func (h *Handler) editMessage(cb *tgbotapi.CallbackQuery, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := cb.Message
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, msg.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = keyboard
	start := time.Now()
	_, err := h.bot.Request(edit)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message", strconv.FormatInt(msg.Chat.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: message edit failed")
	}
}

// updateCard перерисовывает карточку после переключения избранного.
func (h *Handler) updateCard(msg *tgbotapi.Message, concert domain.Concert, subscribed bool) {
	text := FormatConcertMessage(concert, h.loc)
	keyboard := FavoriteKeyboard(concert.ID, subscribed)

	var cfg tgbotapi.Chattable
	if len(msg.Photo) > 0 {
		edit := tgbotapi.NewEditMessageCaption(msg.Chat.ID, msg.MessageID, text)
		edit.ParseMode = tgbotapi.ModeHTML
		edit.ReplyMarkup = keyboard
		cfg = edit
	} else {
		edit := tgbotapi.NewEditMessageText(msg.Chat.ID, msg.MessageID, text)
		edit.ParseMode = tgbotapi.ModeHTML
		edit.ReplyMarkup = keyboard
		cfg = edit
	}

	start := time.Now()
	_, err := h.bot.Request(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message", strconv.FormatInt(msg.Chat.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: card update failed")
	}
}

func (h *Handler) sendCards(ctx context.Context, chatID, userID int64, concerts []domain.Concert) {
	for _, concert := range concerts {
		subscribed, err := h.subsUC.IsConcertSubscribed(ctx, userID, concert.ID)
		if err != nil {
			subscribed = false
		}
		if err := h.sender.SendCard(chatID, concert, subscribed); err != nil {
			h.log.Error().Err(err).Str("concert", concert.ID).Msg("bot: card send failed")
			return
		}
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard any) {
	if err := h.sender.SendText(chatID, text, keyboard); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("bot: reply failed")
	}
}

func (h *Handler) answer(callbackID, text string, alert bool) {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	start := time.Now()
	_, err := h.bot.Request(cb)
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: callback answer failed")
	}
}
