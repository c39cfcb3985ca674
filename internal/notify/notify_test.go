package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	logx "cronbot/pkg/logx"
)

type captured struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (c *captured) SendMessage(_ context.Context, target, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, target+"|"+text)
	return c.err
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("a", 9000)
	lines := strings.Repeat("line of text\n", 500)
	tests := []struct {
		name  string
		in    string
		max   int
		parts int
	}{
		{"short", "hello", 10, 1},
		{"exact", "0123456789", 10, 1},
		{"long", long, 4000, 3},
		{"multibyte", strings.Repeat("é", 25), 10, 3},
		{"lines", lines, 4000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := splitText(tt.in, tt.max)
			if len(parts) != tt.parts {
				t.Fatalf("got %d parts, want %d", len(parts), tt.parts)
			}
			if strings.Join(parts, "") != tt.in {
				t.Fatal("parts do not reassemble to input")
			}
			for _, p := range parts {
				if utf8.RuneCountInString(p) > tt.max {
					t.Fatalf("part has %d runes", utf8.RuneCountInString(p))
				}
				if !utf8.ValidString(p) {
					t.Fatal("part split a rune")
				}
			}
		})
	}
}

func TestRouterDispatch(t *testing.T) {
	t.Parallel()
	tg, sl := &captured{}, &captured{}
	r := NewRouter("telegram")
	r.Handle("telegram", tg)
	r.Handle("slack", sl)

	ctx := context.Background()
	if err := r.SendMessage(ctx, "12345", "a"); err != nil {
		t.Fatal(err)
	}
	if err := r.SendMessage(ctx, "slack:#ops", "b"); err != nil {
		t.Fatal(err)
	}
	if err := r.SendMessage(ctx, "Telegram:99", "c"); err != nil {
		t.Fatal(err)
	}
	if err := r.SendMessage(ctx, "discord:1", "d"); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("want ErrNoRoute, got %v", err)
	}
	if err := r.SendMessage(ctx, "slack:", "e"); !errors.Is(err, ErrEmptyTarget) {
		t.Fatalf("want ErrEmptyTarget, got %v", err)
	}
	if strings.Join(tg.msgs, ",") != "12345|a,99|c" {
		t.Fatalf("telegram got %v", tg.msgs)
	}
	if strings.Join(sl.msgs, ",") != "#ops|b" {
		t.Fatalf("slack got %v", sl.msgs)
	}
}

func TestBroadcastJoinsErrors(t *testing.T) {
	t.Parallel()
	bad := &captured{err: errors.New("blocked")}
	err := Broadcast(context.Background(), bad, []string{"1", "2"}, "hi")
	if err == nil || !strings.Contains(err.Error(), "1: blocked") || !strings.Contains(err.Error(), "2: blocked") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bad.msgs) != 2 {
		t.Fatalf("sent %d", len(bad.msgs))
	}
	if err := Broadcast(context.Background(), bad, nil, "hi"); err != nil {
		t.Fatalf("empty broadcast: %v", err)
	}
}

func fakeBotAPI(t *testing.T) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"cron","username":"cronbot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var body map[string]any
			raw, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(raw, &body); err != nil {
				vals, _ := url.ParseQuery(string(raw))
				body = map[string]any{"chat_id": vals.Get("chat_id"), "text": vals.Get("text")}
			}
			chat, _ := body["chat_id"].(string)
			text, _ := body["text"].(string)
			_ = got.SendMessage(r.Context(), chat, text)
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestTelegramSendsChunks(t *testing.T) {
	t.Parallel()
	srv, got := fakeBotAPI(t)
	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", APIURL: srv.URL, RatePerSec: 100}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := tg.SendMessage(context.Background(), "42", strings.Repeat("x", 4500)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(got.msgs) != 2 {
		t.Fatalf("api saw %d messages, want 2", len(got.msgs))
	}
	if !strings.HasPrefix(got.msgs[0], "42|") {
		t.Fatalf("unexpected chat: %q", got.msgs[0][:8])
	}
	if err := tg.SendMessage(context.Background(), "@channel", "x"); err == nil {
		t.Fatal("expected invalid chat id error")
	}
	if err := tg.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestSlackWebhook(t *testing.T) {
	t.Parallel()
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		_ = json.NewDecoder(r.Body).Decode(&m)
		bodies <- m
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	s, err := NewSlack(srv.URL, "cronbot")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SendMessage(context.Background(), "#ops", "daily stats"); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := <-bodies
	if m["text"] != "daily stats" || m["channel"] != "#ops" || m["username"] != "cronbot" {
		t.Fatalf("unexpected webhook body: %v", m)
	}
	if _, err := NewSlack(" ", ""); err == nil {
		t.Fatal("expected error for empty webhook url")
	}
}
