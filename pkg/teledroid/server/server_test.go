package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raedthawaba/teledroid/pkg/teledroid/auth"
	"github.com/raedthawaba/teledroid/pkg/teledroid/command"
	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
	"github.com/raedthawaba/teledroid/pkg/teledroid/interpret"
	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

const adminToken = "test-admin-token"

// unintelligibleBackend stands in for the language model; everything
// the pattern rules miss comes back as a failure.
type unintelligibleBackend struct{}

func (unintelligibleBackend) Interpret(ctx context.Context, text, deviceContext string) (*interpret.Action, error) {
	return nil, &interpret.Failure{Reason: "تعذر فهم الأمر"}
}

type testEnv struct {
	store  *store.Store
	tokens *auth.TokenIssuer
	server *Server
	ts     *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st, err := store.Open(filepath.Join(t.TempDir(), "server_test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tokens := auth.NewTokenIssuer(st, logger)
	authorizer := auth.NewAuthorizer(config.AccessConfig{AllowedUsers: []string{"1001"}}, logger)
	cmds := command.NewManager(st, logger)
	interp := interpret.New(unintelligibleBackend{}, logger)

	cfg := config.ServerConfig{AdminToken: adminToken, UploadDir: filepath.Join(t.TempDir(), "uploads")}
	srv := New(cfg, st, cmds, tokens, authorizer, interp, nil, logger)
	srv.startedAt = time.Now()
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return &testEnv{store: st, tokens: tokens, server: srv, ts: ts}
}

// linkDevice walks the real OTP flow and returns the device row and token.
func (e *testEnv) linkDevice(t *testing.T) (*store.Device, string) {
	t.Helper()
	user, err := e.store.UpsertUser("1001", "raed", "Raed", "")
	if err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	code, err := e.tokens.IssueOTP(user.ID, "android-1")
	if err != nil {
		t.Fatalf("issuing OTP: %v", err)
	}

	resp := e.post(t, "/api/v1/devices/link", "", map[string]any{
		"device_id":       "android-1",
		"otp_code":        code,
		"device_name":     "Pixel",
		"device_model":    "Pixel 8",
		"android_version": "14",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("link status = %d", resp.StatusCode)
	}
	var body struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	decodeJSON(t, resp, &body)
	if body.Token == "" || body.UserID != user.ID {
		t.Fatalf("link response = %+v", body)
	}

	device, err := e.store.FindDeviceByDeviceID("android-1")
	if err != nil {
		t.Fatalf("device not persisted: %v", err)
	}
	return device, body.Token
}

func (e *testEnv) post(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) deviceGet(t *testing.T, path, deviceID, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, e.ts.URL+path, nil)
	req.Header.Set("X-Device-ID", deviceID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) devicePost(t *testing.T, path, deviceID, token string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", deviceID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestRegisterUserWhitelist(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/users/register", adminToken, map[string]any{
		"chat_id": "1001", "username": "raed",
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("allowed user status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.post(t, "/api/v1/users/register", adminToken, map[string]any{
		"chat_id": "9999",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("blocked user status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminTokenRequired(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/users/register", "", map[string]any{"chat_id": "1001"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.post(t, "/api/v1/users/register", "wrong-token", map[string]any{"chat_id": "1001"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLinkRejectsBadOTP(t *testing.T) {
	e := newTestEnv(t)
	resp := e.post(t, "/api/v1/devices/link", "", map[string]any{
		"device_id": "android-1", "otp_code": "000000",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCommandRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	device, token := e.linkDevice(t)

	// Operator submits a command.
	resp := e.post(t, "/api/v1/commands/execute", adminToken, map[string]any{
		"user_id":    device.UserID,
		"device_id":  device.DeviceID,
		"action":     "battery_info",
		"parameters": map[string]string{},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d", resp.StatusCode)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeJSON(t, resp, &created)
	if created.Status != store.StatusPending {
		t.Errorf("created status = %q", created.Status)
	}

	// Device polls and sees it.
	resp = e.deviceGet(t, "/api/v1/commands/pending", device.DeviceID, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending status = %d", resp.StatusCode)
	}
	var pending struct {
		Commands []struct {
			ID     string `json:"id"`
			Action string `json:"action"`
		} `json:"commands"`
	}
	decodeJSON(t, resp, &pending)
	if len(pending.Commands) != 1 || pending.Commands[0].ID != created.ID {
		t.Fatalf("pending = %+v", pending)
	}
	if pending.Commands[0].Action != "battery_info" {
		t.Errorf("action = %q", pending.Commands[0].Action)
	}

	// Device settles it.
	resp = e.devicePost(t, "/api/v1/commands/result", device.DeviceID, token, map[string]any{
		"command_id": created.ID,
		"status":     "completed",
		"result":     map[string]any{"battery": map[string]any{"level": 80}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	cmd, err := e.store.FindCommand(created.ID)
	if err != nil {
		t.Fatalf("FindCommand: %v", err)
	}
	if cmd.Status != store.StatusCompleted {
		t.Errorf("settled status = %q", cmd.Status)
	}

	// A second, contradictory settlement is a no-op.
	resp = e.devicePost(t, "/api/v1/commands/result", device.DeviceID, token, map[string]any{
		"command_id":    created.ID,
		"status":        "failed",
		"error_message": "late failure",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second result status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	cmd, _ = e.store.FindCommand(created.ID)
	if cmd.Status != store.StatusCompleted || cmd.ErrorMessage != "" {
		t.Errorf("first settlement lost: status=%q error=%q", cmd.Status, cmd.ErrorMessage)
	}
}

func TestCommandResultValidation(t *testing.T) {
	e := newTestEnv(t)
	device, token := e.linkDevice(t)

	resp := e.devicePost(t, "/api/v1/commands/result", device.DeviceID, token, map[string]any{
		"command_id": "some-id", "status": "processing",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status accepted: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.devicePost(t, "/api/v1/commands/result", device.DeviceID, token, map[string]any{
		"command_id": "missing-command", "status": "completed",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown command status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeviceAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	device, _ := e.linkDevice(t)

	resp := e.deviceGet(t, "/api/v1/commands/pending", device.DeviceID, "forged-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/api/v1/commands/pending", nil)
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if r2.StatusCode != http.StatusUnauthorized {
		t.Errorf("no headers status = %d, want 401", r2.StatusCode)
	}
	r2.Body.Close()
}

func TestHeartbeat(t *testing.T) {
	e := newTestEnv(t)
	device, token := e.linkDevice(t)

	if err := e.store.MarkDeviceOffline(device.DeviceID); err != nil {
		t.Fatalf("MarkDeviceOffline: %v", err)
	}

	resp := e.devicePost(t, "/api/v1/devices/heartbeat", device.DeviceID, token, map[string]any{
		"push_token": "fcm-token-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	got, _ := e.store.FindDeviceByDeviceID(device.DeviceID)
	if !got.IsOnline {
		t.Error("device not flipped online")
	}
	if got.PushToken != "fcm-token-1" {
		t.Errorf("push token = %q", got.PushToken)
	}
}

func TestStatsIngestAndRead(t *testing.T) {
	e := newTestEnv(t)
	device, token := e.linkDevice(t)

	level := 15
	resp := e.devicePost(t, "/api/v1/stats", device.DeviceID, token, map[string]any{
		"battery_level":  level,
		"battery_status": "discharging",
		"network_type":   "wifi",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/api/v1/stats/"+device.DeviceID, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if r2.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", r2.StatusCode)
	}
	var body map[string]any
	decodeJSON(t, r2, &body)
	if body["battery_level"].(float64) != 15 {
		t.Errorf("battery_level = %v", body["battery_level"])
	}
	if body["network_type"] != "wifi" {
		t.Errorf("network_type = %v", body["network_type"])
	}
}

func TestScheduledTaskCreateAndList(t *testing.T) {
	e := newTestEnv(t)
	device, _ := e.linkDevice(t)

	resp := e.post(t, "/api/v1/scheduled-tasks", adminToken, map[string]any{
		"device_id":     device.DeviceID,
		"name":          "تقرير يومي",
		"action":        "device_status",
		"schedule_kind": "cron",
		"schedule_expr": "0 8 * * *",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created map[string]any
	decodeJSON(t, resp, &created)
	if created["command_type"] != "system" {
		t.Errorf("category not derived from action: %v", created["command_type"])
	}
	if created["next_run"] == nil {
		t.Error("next_run not computed")
	}

	req, _ := http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/api/v1/scheduled-tasks?device_id=%s", e.ts.URL, device.DeviceID), nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Tasks []map[string]any `json:"tasks"`
	}
	decodeJSON(t, r2, &list)
	if len(list.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(list.Tasks))
	}
}

func TestScheduledTaskRejectsBadSchedule(t *testing.T) {
	e := newTestEnv(t)
	device, _ := e.linkDevice(t)

	resp := e.post(t, "/api/v1/scheduled-tasks", adminToken, map[string]any{
		"device_id":     device.DeviceID,
		"name":          "broken",
		"action":        "device_status",
		"schedule_kind": "cron",
		"schedule_expr": "definitely not cron",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestExecuteUnknownAction(t *testing.T) {
	e := newTestEnv(t)
	device, _ := e.linkDevice(t)

	resp := e.post(t, "/api/v1/commands/execute", adminToken, map[string]any{
		"user_id":   device.UserID,
		"device_id": device.DeviceID,
		"action":    "self_destruct",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func (e *testEnv) uploadFile(t *testing.T, deviceID, token, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+"/api/v1/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Device-ID", deviceID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/v1/files/upload: %v", err)
	}
	return resp
}

func TestUploadFile(t *testing.T) {
	e := newTestEnv(t)
	device, token := e.linkDevice(t)

	content := "سجل التطبيق - سطر 1\nسطر 2\n"
	resp := e.uploadFile(t, device.DeviceID, token, "app.log", content)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var body struct {
		Success  bool   `json:"success"`
		FilePath string `json:"file_path"`
		FileSize int64  `json:"file_size"`
	}
	decodeJSON(t, resp, &body)
	if !body.Success {
		t.Error("success = false")
	}
	if body.FileSize != int64(len(content)) {
		t.Errorf("file_size = %d, want %d", body.FileSize, len(content))
	}

	// The file lands in the spool dir, keyed by device.
	want := filepath.Join(e.server.cfg.UploadDir, device.DeviceID+"_app.log")
	if body.FilePath != want {
		t.Errorf("file_path = %q, want %q", body.FilePath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("reading spooled file: %v", err)
	}
	if string(data) != content {
		t.Errorf("spooled content = %q", data)
	}
}

func TestUploadFileStripsClientPath(t *testing.T) {
	e := newTestEnv(t)
	device, token := e.linkDevice(t)

	resp := e.uploadFile(t, device.DeviceID, token, "../../etc/passwd", "x")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var body struct {
		FilePath string `json:"file_path"`
	}
	decodeJSON(t, resp, &body)

	// Only the base name survives; nothing escapes the spool dir.
	want := filepath.Join(e.server.cfg.UploadDir, device.DeviceID+"_passwd")
	if body.FilePath != want {
		t.Errorf("file_path = %q, want %q", body.FilePath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("spooled file missing: %v", err)
	}
}

func TestUploadFileRequiresAuthAndFilePart(t *testing.T) {
	e := newTestEnv(t)
	device, token := e.linkDevice(t)

	resp := e.uploadFile(t, device.DeviceID, "forged-token", "app.log", "x")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// Multipart body without a "file" part.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("path", "/sdcard/app.log")
	mw.Close()
	req, _ := http.NewRequest(http.MethodPost, e.ts.URL+"/api/v1/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Device-ID", device.DeviceID)
	req.Header.Set("Authorization", "Bearer "+token)
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if r2.StatusCode != http.StatusBadRequest {
		t.Errorf("missing part status = %d, want 400", r2.StatusCode)
	}
	r2.Body.Close()
}

func TestAnalyzeResolvesPattern(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/ai/analyze", adminToken, map[string]any{
		"message": "اعرض ملفات",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d", resp.StatusCode)
	}
	var body struct {
		Success     bool   `json:"success"`
		CommandType string `json:"command_type"`
		Action      string `json:"action"`
		Description string `json:"description"`
	}
	decodeJSON(t, resp, &body)
	if !body.Success {
		t.Fatal("success = false")
	}
	if body.Action != interpret.OpListFiles || body.CommandType != interpret.CategoryFile {
		t.Errorf("resolved %s/%s", body.CommandType, body.Action)
	}
	if body.Description == "" {
		t.Error("description not filled in")
	}
}

func TestAnalyzeReportsBackendFailure(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/ai/analyze", adminToken, map[string]any{
		"message": "كلام لا معنى له إطلاقا",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d", resp.StatusCode)
	}
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	decodeJSON(t, resp, &body)
	if body.Success {
		t.Error("success = true for an unresolvable message")
	}
	if body.Error == "" {
		t.Error("error not filled in")
	}

	r2 := e.post(t, "/api/v1/ai/analyze", adminToken, map[string]any{})
	if r2.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", r2.StatusCode)
	}
	r2.Body.Close()

	r3 := e.post(t, "/api/v1/ai/analyze", "", map[string]any{"message": "اعرض ملفات"})
	if r3.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", r3.StatusCode)
	}
	r3.Body.Close()
}

func TestAIChat(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/ai/chat", adminToken, map[string]any{
		"message": "اعرض ملفات",
		"chat_id": "1001",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	var body struct {
		Success  bool           `json:"success"`
		Response string         `json:"response"`
		Action   map[string]any `json:"action"`
	}
	decodeJSON(t, resp, &body)
	if !body.Success {
		t.Fatal("success = false")
	}
	if !strings.HasPrefix(body.Response, "✅") {
		t.Errorf("response = %q", body.Response)
	}
	if body.Action["action"] != interpret.OpListFiles {
		t.Errorf("action = %v", body.Action)
	}

	r2 := e.post(t, "/api/v1/ai/chat", adminToken, map[string]any{
		"message": "كلام لا معنى له إطلاقا",
	})
	var miss struct {
		Success  bool   `json:"success"`
		Response string `json:"response"`
		Action   any    `json:"action"`
	}
	decodeJSON(t, r2, &miss)
	if miss.Success || !strings.HasPrefix(miss.Response, "❌") || miss.Action != nil {
		t.Errorf("miss = %+v", miss)
	}
}

func TestStreamNudge(t *testing.T) {
	e := newTestEnv(t)
	device, token := e.linkDevice(t)

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/api/v1/devices/stream"
	header := http.Header{}
	header.Set("X-Device-ID", device.DeviceID)
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dialing stream: %v", err)
	}
	defer conn.Close()

	// The handler registers the stream just after the handshake; wait
	// for it before nudging.
	for i := 0; i < 100; i++ {
		e.server.hub.mu.Lock()
		_, attached := e.server.hub.conns[device.DeviceID]
		e.server.hub.mu.Unlock()
		if attached {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	e.server.NudgeDevice(device.DeviceID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt struct {
		Event string `json:"event"`
	}
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("reading nudge: %v", err)
	}
	if evt.Event != "command_pending" {
		t.Errorf("event = %q", evt.Event)
	}
}
