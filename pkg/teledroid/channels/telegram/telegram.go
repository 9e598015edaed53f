// Package telegram implements the Telegram channel over the Bot API
// directly via HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Text messages and document attachments
//   - Inline keyboards and callback query handling
//   - Typing indicators (sendChatAction)
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/channels"
	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
)

// InlineButton represents an inline keyboard button. Pass buttons via
// OutgoingMessage.Metadata["telegram_buttons"] as []InlineButton; each
// needs either CallbackData or URL.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg    config.TelegramConfig
	logger *slog.Logger
	client *http.Client

	// baseURL is the Bot API base URL (https://api.telegram.org/bot<token>).
	baseURL string

	// messages carries incoming updates to the bot loop.
	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Telegram channel instance.
func New(cfg config.TelegramConfig, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURL:  "https://api.telegram.org/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token with getMe and starts the polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}

	// Prevent double-connect goroutine leak.
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe()
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	go t.pollLoop()

	return nil
}

// Disconnect stops the polling loop.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send sends a text message to the given chat. Inline keyboards are
// picked up from Metadata["telegram_buttons"].
func (t *Telegram) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	payload := map[string]any{
		"chat_id": chatID,
		"text":    message.Content,
	}
	if message.ReplyTo != "" {
		if msgID, e := strconv.ParseInt(message.ReplyTo, 10, 64); e == nil {
			payload["reply_parameters"] = map[string]any{"message_id": msgID}
		}
	}
	if replyMarkup := buildReplyMarkup(message); replyMarkup != nil {
		payload["reply_markup"] = replyMarkup
	}

	_, err = t.apiCall("sendMessage", payload)
	return err
}

// SendDocument uploads a document to the given chat via multipart form data.
func (t *Telegram) SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("telegram: document data is required for upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if caption != "" {
		_ = w.WriteField("caption", caption)
	}
	if filename == "" {
		filename = "file"
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("telegram: creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("telegram: writing file data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sendDocument", &buf)
	if err != nil {
		return fmt.Errorf("telegram: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: upload failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("telegram: decoding upload response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram: sendDocument: %s", result.Description)
	}
	return nil
}

// SendTyping sends a "typing..." chat action. Failures are not fatal.
func (t *Telegram) SendTyping(ctx context.Context, to string) error {
	if !t.connected.Load() {
		return nil
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return nil
	}
	_, err = t.apiCall("sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

// Receive returns the incoming messages channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected reports whether the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// buildReplyMarkup builds a ReplyKeyboardMarkup from
// Metadata["telegram_keyboard"] ([][]string of button labels), or an
// InlineKeyboardMarkup from Metadata["telegram_buttons"]. One inline
// button per row.
func buildReplyMarkup(msg *channels.OutgoingMessage) map[string]any {
	if msg == nil || msg.Metadata == nil {
		return nil
	}
	if raw, ok := msg.Metadata["telegram_keyboard"]; ok {
		if layout, ok := raw.([][]string); ok && len(layout) > 0 {
			rows := make([][]map[string]any, 0, len(layout))
			for _, labels := range layout {
				row := make([]map[string]any, 0, len(labels))
				for _, label := range labels {
					if label == "" {
						continue
					}
					row = append(row, map[string]any{"text": label})
				}
				if len(row) > 0 {
					rows = append(rows, row)
				}
			}
			if len(rows) > 0 {
				return map[string]any{"keyboard": rows, "resize_keyboard": true}
			}
		}
		return nil
	}
	raw, ok := msg.Metadata["telegram_buttons"]
	if !ok {
		return nil
	}
	var buttons []InlineButton
	switch v := raw.(type) {
	case []InlineButton:
		buttons = v
	case []map[string]any:
		for _, m := range v {
			var b InlineButton
			if text, ok := m["text"].(string); ok {
				b.Text = text
			}
			if cb, ok := m["callback_data"].(string); ok {
				b.CallbackData = cb
			}
			if url, ok := m["url"].(string); ok {
				b.URL = url
			}
			buttons = append(buttons, b)
		}
	default:
		return nil
	}

	rows := make([][]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		if b.Text == "" {
			continue
		}
		btn := map[string]any{"text": b.Text}
		if b.URL != "" {
			btn["url"] = b.URL
		} else {
			cb := b.CallbackData
			if cb == "" {
				cb = "1" // Telegram requires callback_data or url
			}
			if len(cb) > 64 {
				cb = cb[:64]
			}
			btn["callback_data"] = cb
		}
		rows = append(rows, []map[string]any{btn})
	}
	if len(rows) == 0 {
		return nil
	}
	return map[string]any{"inline_keyboard": rows}
}

// pollLoop runs the getUpdates long-polling loop with exponential backoff.
func (t *Telegram) pollLoop() {
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.offset, 100, t.cfg.PollTimeout)
		if err != nil {
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an IncomingMessage.
func (t *Telegram) processUpdate(u tgUpdate) {
	if u.CallbackQuery != nil {
		t.processCallbackQuery(u.CallbackQuery)
		return
	}

	msg := u.Message
	if msg == nil {
		if u.EditedMessage != nil {
			msg = u.EditedMessage // treat edits as new messages
		} else {
			return
		}
	}

	// Group chats are ignored; device control is a private conversation.
	if msg.Chat.Type != "private" {
		return
	}

	from := ""
	fromName := ""
	if msg.From != nil {
		from = strconv.FormatInt(msg.From.ID, 10)
		fromName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if fromName == "" {
			fromName = msg.From.Username
		}
	}

	incoming := &channels.IncomingMessage{
		ID:        strconv.FormatInt(int64(msg.MessageID), 10),
		Channel:   "telegram",
		From:      from,
		FromName:  fromName,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		incoming.Metadata = map[string]any{
			"username":   msg.From.Username,
			"first_name": msg.From.FirstName,
			"last_name":  msg.From.LastName,
		}
	}

	// Documents arrive with an optional caption instead of text.
	if msg.Document != nil {
		incoming.Type = channels.MessageDocument
		if incoming.Content == "" {
			incoming.Content = msg.Caption
		}
		if incoming.Metadata == nil {
			incoming.Metadata = map[string]any{}
		}
		incoming.Metadata["file_id"] = msg.Document.FileID
		incoming.Metadata["file_name"] = msg.Document.FileName
	}

	t.lastMsg.Store(time.Now())

	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("telegram: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// processCallbackQuery surfaces an inline keyboard press as a callback
// message and acknowledges it so the client stops showing a spinner.
func (t *Telegram) processCallbackQuery(q *tgCallbackQuery) {
	if q.Message == nil {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        q.ID,
		Channel:   "telegram",
		From:      strconv.FormatInt(q.From.ID, 10),
		FromName:  strings.TrimSpace(q.From.FirstName + " " + q.From.LastName),
		ChatID:    strconv.FormatInt(q.Message.Chat.ID, 10),
		Type:      channels.MessageCallback,
		Content:   q.Data,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"username":   q.From.Username,
			"first_name": q.From.FirstName,
			"last_name":  q.From.LastName,
			"message_id": strconv.Itoa(q.Message.MessageID),
		},
	}

	if _, err := t.apiCall("answerCallbackQuery", map[string]any{"callback_query_id": q.ID}); err != nil {
		t.logger.Warn("telegram: answerCallbackQuery failed", "error", err)
	}

	t.lastMsg.Store(time.Now())

	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("telegram: message buffer full, dropping callback", "callback_id", q.ID)
	}
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	EditedMessage *tgMessage       `json:"edited_message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
}

type tgMessage struct {
	MessageID int         `json:"message_id"`
	From      *tgUser     `json:"from"`
	Chat      tgChat      `json:"chat"`
	Date      int         `json:"date"`
	Text      string      `json:"text"`
	Caption   string      `json:"caption"`
	Document  *tgDocument `json:"document"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgBotUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Telegram Bot API.
func (t *Telegram) apiCall(method string, payload map[string]any) (json.RawMessage, error) {
	url := t.baseURL + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

// getMe verifies the bot token and returns bot info.
func (t *Telegram) getMe() (*tgBotUser, error) {
	data, err := t.apiCall("getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *Telegram) getUpdates(offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":  offset,
		"limit":   limit,
		"timeout": timeoutSecs,
		"allowed_updates": []string{
			"message", "edited_message", "callback_query",
		},
	}
	data, err := t.apiCall("getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// Compile-time interface verification.
var _ channels.Channel = (*Telegram)(nil)
