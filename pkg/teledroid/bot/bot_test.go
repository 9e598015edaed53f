package bot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/auth"
	"github.com/raedthawaba/teledroid/pkg/teledroid/channels"
	"github.com/raedthawaba/teledroid/pkg/teledroid/command"
	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// fakeChannel records outgoing messages for assertions.
type fakeChannel struct {
	name     string
	incoming chan *channels.IncomingMessage
	sent     []*channels.OutgoingMessage
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, incoming: make(chan *channels.IncomingMessage, 4)}
}

func (f *fakeChannel) Name() string                      { return f.name }
func (f *fakeChannel) Connect(ctx context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error                 { return nil }
func (f *fakeChannel) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return f.incoming }
func (f *fakeChannel) IsConnected() bool                         { return true }
func (f *fakeChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: true}
}

// failingBackend stands in for the language model and always misses.
type failingBackend struct{}

func (failingBackend) Interpret(ctx context.Context, text, deviceContext string) (*interpret.Action, error) {
	return nil, &interpret.Failure{Reason: "لم أفهم الطلب"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type botEnv struct {
	bot    *Bot
	store  *store.Store
	tokens *auth.TokenIssuer
	tg     *fakeChannel
	nudged []string
}

func newBotEnv(t *testing.T) *botEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger()
	env := &botEnv{store: st, tg: newFakeChannel("telegram")}

	chans := channels.NewManager(logger)
	if err := chans.Register(env.tg); err != nil {
		t.Fatal(err)
	}

	env.tokens = auth.NewTokenIssuer(st, logger)
	authorizer := auth.NewAuthorizer(config.AccessConfig{AllowedUsers: []string{"1001"}}, logger)
	interp := interpret.New(failingBackend{}, logger)
	cmds := command.NewManager(st, logger)

	env.bot = New(chans, st, cmds, interp, env.tokens, authorizer, logger)
	env.bot.SetNudger(func(deviceID string) { env.nudged = append(env.nudged, deviceID) })
	return env
}

func incoming(text string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:        "m1",
		Channel:   "telegram",
		From:      "1001",
		FromName:  "Raed",
		ChatID:    "1001",
		Type:      channels.MessageText,
		Content:   text,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"username": "raed", "first_name": "Raed"},
	}
}

func (e *botEnv) lastSent(t *testing.T) string {
	t.Helper()
	if len(e.tg.sent) == 0 {
		t.Fatal("no message sent")
	}
	return e.tg.sent[len(e.tg.sent)-1].Content
}

func (e *botEnv) linkDevice(t *testing.T) *store.Device {
	t.Helper()
	user, err := e.store.UpsertUser("1001", "raed", "Raed", "")
	if err != nil {
		t.Fatal(err)
	}
	device, err := e.store.LinkDevice(user.ID, "android-1", "Pixel", "Pixel 7", "14")
	if err != nil {
		t.Fatal(err)
	}
	return device
}

func TestHandleRejectsUnauthorized(t *testing.T) {
	e := newBotEnv(t)

	msg := incoming("مرحبا")
	msg.From = "9999"
	msg.ChatID = "9999"
	e.bot.handle(context.Background(), msg)

	if got := e.lastSent(t); !strings.Contains(got, "ليس لديك إذن") {
		t.Errorf("reply = %q, want permission denial", got)
	}
}

func TestFreeTextSubmitsCommand(t *testing.T) {
	e := newBotEnv(t)
	device := e.linkDevice(t)

	e.bot.handle(context.Background(), incoming("اعرض حالة الجهاز"))

	if got := e.lastSent(t); !strings.Contains(got, "جاري تنفيذ الأمر") {
		t.Fatalf("reply = %q, want execution ack", got)
	}
	pending, err := e.store.ListPendingCommands(device.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Action != interpret.OpDeviceStatus {
		t.Fatalf("pending = %+v, want one device_status command", pending)
	}
	if len(e.nudged) != 1 || e.nudged[0] != "android-1" {
		t.Errorf("nudged = %v, want [android-1]", e.nudged)
	}
}

func TestFreeTextWithoutDevice(t *testing.T) {
	e := newBotEnv(t)

	e.bot.handle(context.Background(), incoming("اعرض حالة الجهاز"))

	if got := e.lastSent(t); !strings.Contains(got, "لم تقم بربط جهاز") {
		t.Errorf("reply = %q, want link prompt", got)
	}
}

func TestFreeTextInterpretationFailure(t *testing.T) {
	e := newBotEnv(t)
	e.linkDevice(t)

	e.bot.handle(context.Background(), incoming("كلام غامض تماما"))

	got := e.lastSent(t)
	if !strings.Contains(got, "لم أفهم الطلب") || !strings.Contains(got, "جرب استخدام الأزرار") {
		t.Errorf("reply = %q, want failure reason with hint", got)
	}
}

func TestStartCommandShowsKeyboard(t *testing.T) {
	e := newBotEnv(t)

	e.bot.handle(context.Background(), incoming("/start"))

	if len(e.tg.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(e.tg.sent))
	}
	msg := e.tg.sent[0]
	if !strings.Contains(msg.Content, "مرحباً Raed") {
		t.Errorf("welcome = %q", msg.Content)
	}
	layout, ok := msg.Metadata["telegram_keyboard"].([][]string)
	if !ok || len(layout) != 3 {
		t.Fatalf("keyboard metadata = %v", msg.Metadata)
	}
	if layout[0][0] != buttonStatus {
		t.Errorf("first row = %v", layout[0])
	}
}

func TestMenuCommandsSubmitOperations(t *testing.T) {
	e := newBotEnv(t)
	device := e.linkDevice(t)

	for _, tc := range []struct {
		command string
		action  string
	}{
		{"/status", interpret.OpDeviceStatus},
		{"/battery", interpret.OpBatteryInfo},
		{"/storage", interpret.OpStorageInfo},
		{"/network", interpret.OpNetworkInfo},
	} {
		e.bot.handle(context.Background(), incoming(tc.command))
		pending, err := e.store.ListPendingCommands(device.ID)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, cmd := range pending {
			if cmd.Action == tc.action {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: no pending %s command", tc.command, tc.action)
		}
	}
}

func TestKeyboardButtonHelp(t *testing.T) {
	e := newBotEnv(t)

	e.bot.handle(context.Background(), incoming(buttonHelp))

	if got := e.lastSent(t); !strings.Contains(got, "/link") {
		t.Errorf("help text = %q, want command listing", got)
	}
}

func TestFilesMenuCallback(t *testing.T) {
	e := newBotEnv(t)
	device := e.linkDevice(t)

	e.bot.handle(context.Background(), incoming("/files"))
	menu := e.tg.sent[0]
	if menu.Metadata["telegram_buttons"] == nil {
		t.Fatal("files menu has no inline buttons")
	}

	cb := incoming("files_list")
	cb.Type = channels.MessageCallback
	e.bot.handle(context.Background(), cb)

	pending, err := e.store.ListPendingCommands(device.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Action != interpret.OpListFiles {
		t.Fatalf("pending = %+v, want one list_files command", pending)
	}
}

func TestLinkIssuesRedeemableOTP(t *testing.T) {
	e := newBotEnv(t)

	e.bot.handle(context.Background(), incoming("/link android-9"))

	got := e.lastSent(t)
	code := regexp.MustCompile(`\d{6}`).FindString(got)
	if code == "" {
		t.Fatalf("reply = %q, want a 6-digit code", got)
	}

	token, _, err := e.tokens.RedeemOTP("android-9", code)
	if err != nil {
		t.Fatalf("redeeming issued code: %v", err)
	}
	if token == "" {
		t.Error("empty device token")
	}
}

func TestLinkWithoutArgumentExplains(t *testing.T) {
	e := newBotEnv(t)

	e.bot.handle(context.Background(), incoming("/link"))

	if got := e.lastSent(t); !strings.Contains(got, "/link <معرّف الجهاز>") {
		t.Errorf("reply = %q, want link instructions", got)
	}
}

func TestUnlink(t *testing.T) {
	e := newBotEnv(t)

	e.bot.handle(context.Background(), incoming("/unlink"))
	if got := e.lastSent(t); !strings.Contains(got, "لم تقم بربط أي جهاز") {
		t.Errorf("reply = %q, want nothing-linked notice", got)
	}

	e.linkDevice(t)
	e.bot.handle(context.Background(), incoming("/unlink"))
	if got := e.lastSent(t); !strings.Contains(got, "تم إلغاء ربط جميع الأجهزة") {
		t.Errorf("reply = %q, want unlink confirmation", got)
	}
}

func TestOnCommandSettledSendsResult(t *testing.T) {
	e := newBotEnv(t)
	device := e.linkDevice(t)

	e.bot.handle(context.Background(), incoming("معلومات بطارية"))
	pending, err := e.store.ListPendingCommands(device.ID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}

	applied, err := e.bot.commands.Settle(pending[0].ID, command.Outcome{
		Success: true,
		Result:  map[string]any{"battery": map[string]any{"level": 87, "status": "يشحن"}},
	})
	if err != nil || !applied {
		t.Fatalf("Settle: applied=%v err=%v", applied, err)
	}

	e.bot.OnCommandSettled(pending[0].ID)

	got := e.lastSent(t)
	if !strings.Contains(got, "تم تنفيذ الأمر بنجاح") || !strings.Contains(got, "87") {
		t.Errorf("result reply = %q", got)
	}
}

func TestUnknownMenuCommand(t *testing.T) {
	e := newBotEnv(t)

	e.bot.handle(context.Background(), incoming("/frobnicate"))

	if got := e.lastSent(t); !strings.Contains(got, "أمر غير معروف") {
		t.Errorf("reply = %q, want unknown-command notice", got)
	}
}
