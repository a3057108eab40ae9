// Package telegram implements platform.Messenger on top of the Telegram Bot
// API via telebot. The adapter is send-only: no update polling, no command
// handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"relaybot/internal/platform"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Token string

	// SendRatePerSec caps outbound sends. Telegram's global bot limit is
	// ~30 messages/second; default 25 leaves headroom.
	SendRatePerSec int

	// ClientTimeout bounds a single Bot API HTTP call. Default 10s.
	ClientTimeout time.Duration
}

// Adapter owns the *tele.Bot session. Apart from New, all methods must be
// called from the connection manager's loop only.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter
	http    *http.Client

	bot *tele.Bot

	// chats caches resolved channels between fetches. Loop-owned, so no lock.
	chats map[int64]*tele.Chat
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.SendRatePerSec <= 0 {
		cfg.SendRatePerSec = 25
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendRatePerSec),
		http:    &http.Client{Timeout: cfg.ClientTimeout},
		chats:   map[int64]*tele.Chat{},
	}, nil
}

// Connect builds a fresh session. tele.NewBot performs the getMe handshake,
// so a bad token surfaces here as platform.ErrAuthFailed.
func (a *Adapter) Connect(ctx context.Context) error {
	b, err := tele.NewBot(tele.Settings{
		Token:  a.cfg.Token,
		Client: a.http,
	})
	if err != nil {
		return a.classify(err)
	}
	a.bot = b
	clear(a.chats)
	a.log.Info("telegram session established", logx.String("bot", b.Me.Username), logx.Int64("bot_id", b.Me.ID))
	return nil
}

// Probe re-runs getMe on the live session.
func (a *Adapter) Probe(ctx context.Context) error {
	if a.bot == nil {
		return errors.New("telegram: not connected")
	}
	_, err := a.bot.Raw("getMe", nil)
	return a.classify(err)
}

func (a *Adapter) Close() {
	a.bot = nil
	clear(a.chats)
}

func (a *Adapter) FetchUser(ctx context.Context, id int64) (platform.User, error) {
	if a.bot == nil {
		return platform.User{}, errors.New("telegram: not connected")
	}
	// The Bot API has no direct user lookup; the private chat with a user
	// shares the user's id and exists once the user has started the bot.
	chat, err := a.bot.ChatByID(id)
	if err != nil {
		return platform.User{}, a.classify(err)
	}
	return platform.User{ID: chat.ID, Username: chat.Username}, nil
}

func (a *Adapter) FetchChannel(ctx context.Context, id int64) (platform.Channel, error) {
	if a.bot == nil {
		return platform.Channel{}, errors.New("telegram: not connected")
	}
	if chat, ok := a.chats[id]; ok {
		return toChannel(chat), nil
	}
	chat, err := a.bot.ChatByID(id)
	if err != nil {
		return platform.Channel{}, a.classify(err)
	}
	a.chats[id] = chat
	return toChannel(chat), nil
}

func (a *Adapter) SendUser(ctx context.Context, id int64, text string) error {
	return a.send(ctx, id, text)
}

func (a *Adapter) SendChannel(ctx context.Context, id int64, text string) error {
	return a.send(ctx, id, text)
}

func (a *Adapter) send(ctx context.Context, id int64, text string) error {
	if a.bot == nil {
		return errors.New("telegram: not connected")
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.Send(tele.ChatID(id), text, &tele.SendOptions{DisableWebPagePreview: true})
	return a.classify(err)
}

func toChannel(chat *tele.Chat) platform.Channel {
	textable := false
	switch chat.Type {
	case tele.ChatPrivate, tele.ChatGroup, tele.ChatSuperGroup, tele.ChatChannel, tele.ChatChannelPrivate:
		textable = true
	}
	return platform.Channel{ID: chat.ID, Title: chat.Title, Textable: textable}
}

// classify maps telebot errors onto the platform error taxonomy.
func (a *Adapter) classify(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return platform.RateLimitedFor(time.Duration(flood.RetryAfter) * time.Second)
	}
	var floodp *tele.FloodError
	if errors.As(err, &floodp) {
		return platform.RateLimitedFor(time.Duration(floodp.RetryAfter) * time.Second)
	}

	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 401:
			return fmt.Errorf("%w: %s", platform.ErrAuthFailed, te.Description)
		case te.Code == 403:
			return fmt.Errorf("%w: %s", platform.ErrForbidden, te.Description)
		case te.Code == 404:
			return fmt.Errorf("%w: %s", platform.ErrNotFound, te.Description)
		case te.Code == 429:
			return platform.RateLimitedFor(0)
		case te.Code == 400 && strings.Contains(strings.ToLower(te.Description), "not found"):
			return fmt.Errorf("%w: %s", platform.ErrNotFound, te.Description)
		}
		return err
	}

	// Network-level errors stay as-is; the manager treats them as transient.
	return err
}
