package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/telebot.v3"
)

const commandTimeout = 10 * time.Second

// BotHandler holds the bot instance and configuration
type BotHandler struct {
	Bot       *telebot.Bot
	WebAppURL string // URL where the frontend is hosted, e.g., "https://yourdomain.com/app"

	service *Service
	logger  zerolog.Logger
}

// NewBotHandler initializes and returns a new BotHandler
func NewBotHandler(token, webAppURL string, service *Service, logger zerolog.Logger) (*BotHandler, error) {
	pref := telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	}

	b, err := telebot.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	handler := &BotHandler{
		Bot:       b,
		WebAppURL: webAppURL,
		service:   service,
		logger:    logger.With().Str("component", "telegram_bot").Logger(),
	}

	handler.setupHandlers()
	return handler, nil
}

// setupHandlers registers all command handlers
func (h *BotHandler) setupHandlers() {
	h.Bot.Handle("/start", h.handleStart)
	h.Bot.Handle("/access", h.handleAccess)
	h.Bot.Handle("/check", h.handleCheck)
}

// handleStart responds to the /start command with a Web App button
func (h *BotHandler) handleStart(c telebot.Context) error {
	message := fmt.Sprintf("Welcome to docgate, %s! Use /access to list your document access or /check <document id>.", c.Sender().FirstName)
	if h.WebAppURL == "" {
		return c.Send(message)
	}

	webAppButton := telebot.ReplyMarkup{
		InlineKeyboard: [][]telebot.InlineButton{
			{
				telebot.InlineButton{
					Text:   "Open docgate",
					WebApp: &telebot.WebApp{URL: h.WebAppURL},
				},
			},
		},
	}
	return c.Send(message, &webAppButton)
}

func (h *BotHandler) handleAccess(c telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := h.service.AccessSummary(ctx, c.Sender().ID)
	if err != nil {
		return h.replyError(c, err)
	}
	return c.Send(reply)
}

func (h *BotHandler) handleCheck(c telebot.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /check <document id>")
	}
	documentID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil || documentID == 0 {
		return c.Send("Document id must be a positive number.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := h.service.Check(ctx, c.Sender().ID, uint(documentID))
	if err != nil {
		return h.replyError(c, err)
	}
	return c.Send(reply)
}

func (h *BotHandler) replyError(c telebot.Context, err error) error {
	if errors.Is(err, ErrNotBound) {
		return c.Send("Your Telegram account is not linked to docgate. Bind it from the web app first.")
	}
	h.logger.Error().Err(err).Int64("telegram_id", c.Sender().ID).Msg("bot command failed")
	return c.Send("Something went wrong, please try again later.")
}

// Start starts the bot poller
func (h *BotHandler) Start() {
	h.Bot.Start()
}

// Stop stops the bot poller
func (h *BotHandler) Stop() {
	h.Bot.Stop()
}
