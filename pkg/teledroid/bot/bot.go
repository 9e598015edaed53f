// Package bot routes incoming chat messages through the access check,
// menu commands, and the interpreter, and pushes command results back
// to the chat they came from.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/auth"
	"github.com/raedthawaba/teledroid/pkg/teledroid/channels"
	"github.com/raedthawaba/teledroid/pkg/teledroid/command"
	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/reply"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// sendTimeout bounds outbound sends triggered outside a request flow.
const sendTimeout = 15 * time.Second

// route remembers where a user last talked to us, so settlement
// results find their way back.
type route struct {
	channel string
	chatID  string
}

// Bot is the chat-side orchestrator.
type Bot struct {
	chans      *channels.Manager
	store      *store.Store
	commands   *command.Manager
	interp     *interpret.Interpreter
	tokens     *auth.TokenIssuer
	authorizer *auth.Authorizer
	logger     *slog.Logger

	// nudge wakes a device's stream after new work; optional.
	nudge func(deviceID string)

	mu     sync.Mutex
	routes map[int64]route // user row id → last chat
}

// New creates the orchestrator over its collaborators.
func New(chans *channels.Manager, st *store.Store, cmds *command.Manager, interp *interpret.Interpreter, tokens *auth.TokenIssuer, authorizer *auth.Authorizer, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		chans:      chans,
		store:      st,
		commands:   cmds,
		interp:     interp,
		tokens:     tokens,
		authorizer: authorizer,
		logger:     logger.With("component", "bot"),
		routes:     make(map[int64]route),
	}
}

// SetNudger registers the device wake-up callback.
func (b *Bot) SetNudger(fn func(deviceID string)) {
	b.nudge = fn
}

// Run consumes messages until the context ends or the channel manager
// closes its stream.
func (b *Bot) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-b.chans.Messages():
			if !ok {
				return nil
			}
			go b.handle(ctx, msg)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg *channels.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked", "panic", r, "chat_id", msg.ChatID)
		}
	}()

	if msg.Content == "" && msg.Type != channels.MessageCallback {
		return
	}

	if !b.authorizer.IsAuthorized(msg.From) {
		b.send(ctx, msg, "❌ عذراً، ليس لديك إذن للوصول إلى هذا البوت.", nil)
		return
	}

	user, err := b.store.UpsertUser(msg.From, metaString(msg, "username"), metaString(msg, "first_name"), metaString(msg, "last_name"))
	if err != nil {
		b.logger.Error("registering user failed", "chat_id", msg.ChatID, "error", err)
		return
	}

	b.mu.Lock()
	b.routes[user.ID] = route{channel: msg.Channel, chatID: msg.ChatID}
	b.mu.Unlock()

	if msg.Type == channels.MessageCallback {
		b.handleCallback(ctx, msg, user)
		return
	}

	text := strings.TrimSpace(msg.Content)
	if strings.HasPrefix(text, "/") {
		b.handleMenuCommand(ctx, msg, user, text)
		return
	}
	if b.handleKeyboardButton(ctx, msg, user, text) {
		return
	}

	b.handleFreeText(ctx, msg, user, text)
}

// handleFreeText runs the interpretation pipeline: rules first, then
// the language-model fallback, then command submission.
func (b *Bot) handleFreeText(ctx context.Context, msg *channels.IncomingMessage, user *store.User, text string) {
	deviceContext := b.deviceContext(user)

	action, err := b.interp.Interpret(ctx, text, deviceContext)
	if err != nil {
		var failure *interpret.Failure
		if errors.As(err, &failure) {
			b.send(ctx, msg, "❌ "+failure.Reason+"\n\nجرب استخدام الأزرار أو الأوامر المحددة.", nil)
			return
		}
		b.logger.Error("interpretation failed", "error", err)
		b.send(ctx, msg, "❌ تعذر فهم الأمر", nil)
		return
	}

	b.submitAction(ctx, msg, user, action)
}

// submitAction pushes an action to the user's device. The reply here
// only acknowledges; the result lands via OnCommandSettled once the
// device reports back.
func (b *Bot) submitAction(ctx context.Context, msg *channels.IncomingMessage, user *store.User, action *interpret.Action) {
	device := b.activeDevice(user.ID)
	if device == nil {
		b.send(ctx, msg, "❌ لم تقم بربط جهاز بعد.\nاضغط 'ربط جهاز' للبدء.", nil)
		return
	}

	cmd, err := b.commands.Submit(user.ID, &device.ID, action)
	if err != nil {
		var verr *interpret.ValidationError
		if errors.As(err, &verr) {
			b.send(ctx, msg, fmt.Sprintf("❌ الأمر يحتاج إلى معلومة إضافية: %s", verr.Field), nil)
			return
		}
		b.logger.Error("submitting command failed", "error", err)
		b.send(ctx, msg, "❌ تعذر إرسال الأمر إلى الجهاز", nil)
		return
	}

	b.logOperation(user.ID, &device.ID, cmd.ID, "command_submitted",
		fmt.Sprintf("أمر %s عبر %s", cmd.Action, msg.Channel))

	if b.nudge != nil {
		b.nudge(device.DeviceID)
	}
	b.send(ctx, msg, "⏳ جاري تنفيذ الأمر...", nil)
}

// OnCommandSettled formats a settled command and sends it to the chat
// the owner last used. Wired to the server's settlement hook and to
// chat-less flows via the scheduler.
func (b *Bot) OnCommandSettled(commandID string) {
	cmd, err := b.commands.Get(commandID)
	if err != nil {
		b.logger.Error("settled command not found", "id", commandID, "error", err)
		return
	}

	b.mu.Lock()
	r, ok := b.routes[cmd.UserID]
	b.mu.Unlock()
	if !ok {
		if r, ok = b.routeFromStore(cmd.UserID); !ok {
			b.logger.Warn("no chat route for settled command", "id", commandID, "user_id", cmd.UserID)
			return
		}
	}

	text := reply.Format(cmd)
	if cmd.Status == store.StatusCompleted && cmd.CommandType == interpret.CategorySystem {
		if lines := b.suggestions(cmd); len(lines) > 0 {
			text += "\n\n💡 اقتراحات:\n• " + strings.Join(lines, "\n• ")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := b.chans.Send(ctx, r.channel, r.chatID, &channels.OutgoingMessage{Content: text}); err != nil {
		b.logger.Error("sending result failed", "channel", r.channel, "chat_id", r.chatID, "error", err)
	}
}

// OnTaskFired informs the owner that a scheduled task materialized and
// wakes the device. Registered as the scheduler's notifier.
func (b *Bot) OnTaskFired(task *store.ScheduledTask, cmd *store.Command) {
	device, err := b.store.FindDevice(task.DeviceID)
	if err == nil && b.nudge != nil {
		b.nudge(device.DeviceID)
	}

	b.mu.Lock()
	r, ok := b.routes[cmd.UserID]
	b.mu.Unlock()
	if !ok {
		if r, ok = b.routeFromStore(cmd.UserID); !ok {
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	text := fmt.Sprintf("⏰ المهمة المجدولة '%s' قيد التنفيذ الآن...", task.Name)
	if err := b.chans.Send(ctx, r.channel, r.chatID, &channels.OutgoingMessage{Content: text}); err != nil {
		b.logger.Error("sending task notification failed", "chat_id", r.chatID, "error", err)
	}
}

// routeFromStore falls back to the persisted chat id over Telegram
// when the user has not talked to us since startup.
func (b *Bot) routeFromStore(userID int64) (route, bool) {
	user, err := b.store.FindUser(userID)
	if err != nil || user.ChatID == "" {
		return route{}, false
	}
	if _, ok := b.chans.Channel("telegram"); !ok {
		return route{}, false
	}
	return route{channel: "telegram", chatID: user.ChatID}, true
}

// suggestions derives maintenance hints from the device's latest
// telemetry snapshot.
func (b *Bot) suggestions(cmd *store.Command) []string {
	if cmd.DeviceID == nil {
		return nil
	}
	device, err := b.store.FindDevice(*cmd.DeviceID)
	if err != nil {
		return nil
	}
	stats, err := b.store.LatestStats(device.DeviceID)
	if err != nil {
		return nil
	}
	return reply.Suggest(reply.TelemetryFromStats(stats))
}

// deviceContext summarizes the user's device for the fallback
// interpreter prompt; empty when nothing is linked.
func (b *Bot) deviceContext(user *store.User) string {
	device := b.activeDevice(user.ID)
	if device == nil {
		return ""
	}
	state := "غير متصل"
	if device.IsOnline {
		state = "متصل"
	}
	return fmt.Sprintf("جهاز المستخدم: %s (%s)، الحالة: %s", device.DeviceName, device.DeviceModel, state)
}

// activeDevice picks the user's online device, or the first linked one.
func (b *Bot) activeDevice(userID int64) *store.Device {
	devices, err := b.store.ListDevicesForUser(userID)
	if err != nil || len(devices) == 0 {
		return nil
	}
	for _, d := range devices {
		if d.IsOnline {
			return d
		}
	}
	return devices[0]
}

func (b *Bot) logOperation(userID int64, deviceID *int64, commandID, opType, description string) {
	err := b.store.AppendLog(&store.OperationLog{
		UserID:        userID,
		DeviceID:      deviceID,
		CommandID:     commandID,
		OperationType: opType,
		Description:   description,
	})
	if err != nil {
		b.logger.Warn("appending operation log failed", "error", err)
	}
}

// metaString reads a string value from incoming-message metadata.
func metaString(msg *channels.IncomingMessage, key string) string {
	if msg.Metadata == nil {
		return ""
	}
	s, _ := msg.Metadata[key].(string)
	return s
}

// send replies on the channel the message arrived on.
func (b *Bot) send(ctx context.Context, msg *channels.IncomingMessage, text string, metadata map[string]any) {
	out := &channels.OutgoingMessage{Content: text, Metadata: metadata}
	if err := b.chans.Send(ctx, msg.Channel, msg.ChatID, out); err != nil {
		b.logger.Error("sending reply failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}
