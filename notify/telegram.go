package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Telegram sends notifications through the Bot API. Errors are logged
// and swallowed: notification delivery is best effort.
type Telegram struct {
	Token  string
	ChatID string
	HTTP   *http.Client
	Log    *slog.Logger
}

func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		Token:  token,
		ChatID: chatID,
		HTTP:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Notify(sev Severity, msg string) {
	log := t.Log
	if log == nil {
		log = slog.Default()
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	form := url.Values{
		"chat_id": {t.ChatID},
		"text":    {"[" + sev.String() + "] " + msg},
	}

	client := t.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Post(endpoint, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	if err != nil {
		log.Warn("telegram notify failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("telegram notify rejected", "status", resp.StatusCode)
	}
}
