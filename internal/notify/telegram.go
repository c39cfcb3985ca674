package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "cronbot/pkg/logx"
)

// MaxTelegramText is the chunk size used when splitting long messages. The
// API limit is 4096; the margin leaves room for entity expansion.
const MaxTelegramText = 4000

type TelegramConfig struct {
	Token      string
	APIURL     string // empty means the public Bot API
	RatePerSec int
	ParseMode  string
}

type Telegram struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	mode    tele.ParseMode
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Offline skips getMe at construction; Health performs it on demand.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	return &Telegram{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		mode:    tele.ParseMode(cfg.ParseMode),
		log:     log.With(logx.String("comp", "telegram")),
	}, nil
}

// SendMessage sends text to a numeric chat id, split into chunks of at most
// MaxTelegramText runes.
func (t *Telegram) SendMessage(ctx context.Context, target, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", target)
	}
	opts := &tele.SendOptions{ParseMode: t.mode, DisableWebPagePreview: true}
	for i, part := range splitText(text, MaxTelegramText) {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := t.bot.Send(tele.ChatID(chatID), part, opts); err != nil {
			t.log.Warn("telegram send failed", logx.Int64("chat", chatID), logx.Int("part", i), logx.Err(err))
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (t *Telegram) Health(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Raw("getMe", nil)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		return errors.New("telegram getMe timed out")
	}
}

// splitText breaks s into chunks of at most max runes, preferring newline
// boundaries in the second half of a chunk.
func splitText(s string, max int) []string {
	if s == "" {
		return []string{""}
	}
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return []string{s}
	}
	var out []string
	for s != "" {
		if utf8.RuneCountInString(s) <= max {
			out = append(out, s)
			break
		}
		// byte offset of the max-th rune
		cut, n := 0, 0
		for i := range s {
			if n == max {
				cut = i
				break
			}
			n++
		}
		chunk := s[:cut]
		if nl := strings.LastIndexByte(chunk, '\n'); nl > len(chunk)/2 {
			cut = nl + 1
			chunk = s[:cut]
		}
		out = append(out, chunk)
		s = s[cut:]
	}
	return out
}
