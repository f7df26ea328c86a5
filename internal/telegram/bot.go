// Package telegram is the chat transport: it delivers engine alerts and
// answers user commands over the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/albapepper/scoracle-relay/internal/metrics"
	"github.com/albapepper/scoracle-relay/internal/notifications"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRate caps outbound messages per second across all chats.
	SendRate int
	// Offline skips the getMe call at construction. Tests only.
	Offline bool
}

// Bot wraps a telebot instance. It implements notifications.Notifier.
type Bot struct {
	bot     *tele.Bot
	cmds    *Commands
	limiter *rate.Limiter
	log     *slog.Logger

	runMu   sync.Mutex
	running bool
	done    chan struct{}
}

// New creates the bot and registers command handlers.
func New(cfg Config, cmds *Commands, log *slog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = 25
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("Telegram handler error", "error", err)
		},
	})
	if err != nil {
		return nil, err
	}
	bt := &Bot{
		bot:     b,
		cmds:    cmds,
		limiter: rate.NewLimiter(rate.Limit(sendRate), sendRate),
		log:     log,
	}
	bt.register()
	return bt, nil
}

func (b *Bot) register() {
	b.handle("/start", func(c tele.Context) Reply { return b.cmds.Start(context.Background()) })
	b.handle("/help", func(c tele.Context) Reply { return b.cmds.Help() })
	b.handle("/about", func(c tele.Context) Reply { return b.cmds.About() })
	b.handle("/subscribe", func(c tele.Context) Reply { return b.cmds.Subscribe(c.Chat().ID) })
	b.handle("/follow", func(c tele.Context) Reply { return b.cmds.Follow(c.Chat().ID, c.Message().Payload) })
	b.handle("/unfollow", func(c tele.Context) Reply { return b.cmds.Unfollow(c.Chat().ID, c.Message().Payload) })
	b.handle("/following", func(c tele.Context) Reply { return b.cmds.Following(c.Chat().ID) })
	b.handle("/watch", func(c tele.Context) Reply { return b.cmds.Watch(context.Background()) })
	b.handle("/fixtures", func(c tele.Context) Reply { return b.cmds.Fixtures(context.Background()) })
	b.handle("/livescores", func(c tele.Context) Reply { return b.cmds.LiveScores(context.Background()) })
	b.handle("/lineups", func(c tele.Context) Reply { return b.cmds.Lineups(context.Background(), c.Message().Payload) })

	b.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		if err := c.Respond(); err != nil {
			b.log.Debug("Callback answer failed", "error", err)
		}
		key := callbackKey(cb.Data)
		r, ok := b.cmds.Callback(context.Background(), key)
		if !ok {
			b.log.Debug("Unknown callback", "data", cb.Data)
			return nil
		}
		metrics.CommandsTotal.WithLabelValues(key).Inc()
		return b.reply(c, r)
	})
}

func (b *Bot) handle(command string, fn func(tele.Context) Reply) {
	name := strings.TrimPrefix(command, "/")
	b.bot.Handle(command, func(c tele.Context) error {
		if c.Chat() == nil || c.Message() == nil {
			return nil
		}
		metrics.CommandsTotal.WithLabelValues(name).Inc()
		r := fn(c)
		b.log.Debug("Command", "command", name, "chat_id", c.Chat().ID)
		return b.reply(c, r)
	})
}

// reply sends r to the chat of c. A banner that Telegram refuses falls back
// to a text message.
func (b *Bot) reply(c tele.Context, r Reply) error {
	opt := replyOptions(r)
	if r.Photo != "" {
		photo := &tele.Photo{File: tele.FromURL(r.Photo), Caption: r.Text}
		err := c.Send(photo, opt)
		if err == nil {
			return nil
		}
		b.log.Warn("Banner send failed, replying with text", "error", err)
	}
	return c.Send(r.Text, opt)
}

// callbackKey strips the framing telebot adds to button data ("\funique|data").
func callbackKey(data string) string {
	data = strings.TrimPrefix(data, "\f")
	if i := strings.IndexByte(data, '|'); i >= 0 {
		data = data[:i]
	}
	return data
}

// Start begins long polling and returns immediately. Polling stops when ctx
// is cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	if b.running {
		b.runMu.Unlock()
		return
	}
	b.running = true
	b.done = make(chan struct{})
	done := b.done
	b.runMu.Unlock()

	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	go func() {
		defer close(done)
		b.log.Info("Telegram polling started", "bot", b.bot.Me.Username)
		b.bot.Start() // blocks until Stop
		b.log.Info("Telegram polling stopped")
	}()
}

// Stop ends polling. Safe to call more than once.
func (b *Bot) Stop() {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return
	}
	b.running = false
	done := b.done
	b.runMu.Unlock()

	b.bot.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		b.log.Warn("Telegram stop grace elapsed; continuing shutdown")
	}
}

// Send delivers one alert to one chat.
func (b *Bot) Send(ctx context.Context, recipient int64, msg notifications.Message) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.bot.Send(&tele.Chat{ID: recipient}, msg.Text, sendOptions(msg))
	return err
}

func sendOptions(msg notifications.Message) *tele.SendOptions {
	return replyOptions(Reply{Text: msg.Text, Format: msg.Format, LinkText: msg.LinkText, LinkURL: msg.LinkURL})
}

func replyOptions(r Reply) *tele.SendOptions {
	opt := &tele.SendOptions{DisableWebPagePreview: true}
	if r.Format == notifications.FormatMarkdown {
		opt.ParseMode = tele.ModeMarkdown
	}
	switch {
	case len(r.Menu) > 0:
		opt.ReplyMarkup = menuMarkup(r.Menu)
	case r.LinkURL != "":
		text := r.LinkText
		if text == "" {
			text = r.LinkURL
		}
		rm := &tele.ReplyMarkup{}
		rm.Inline(rm.Row(rm.URL(text, r.LinkURL)))
		opt.ReplyMarkup = rm
		opt.DisableWebPagePreview = false
	}
	return opt
}

func menuMarkup(menu [][]Button) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(menu))
	for _, line := range menu {
		btns := make([]tele.Btn, 0, len(line))
		for _, btn := range line {
			if btn.URL != "" {
				btns = append(btns, rm.URL(btn.Text, btn.URL))
			} else {
				btns = append(btns, rm.Data(btn.Text, btn.Data))
			}
		}
		rows = append(rows, rm.Row(btns...))
	}
	rm.Inline(rows...)
	return rm
}
