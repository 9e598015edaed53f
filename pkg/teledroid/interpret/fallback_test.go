package interpret

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseReplyFenceRoundTrip(t *testing.T) {
	raw := `{"success": true, "command_type": "file", "action": "list_files", "parameters": {"path": "/sdcard"}, "description": "list"}`
	fenced := "```json\n" + raw + "\n```"

	a1, err := ParseReply(raw)
	if err != nil {
		t.Fatalf("unfenced: %v", err)
	}
	a2, err := ParseReply(fenced)
	if err != nil {
		t.Fatalf("fenced: %v", err)
	}

	if a1.Operation != a2.Operation || a1.Category != a2.Category ||
		a1.Parameters["path"] != a2.Parameters["path"] {
		t.Errorf("fenced and unfenced replies diverged: %+v vs %+v", a1, a2)
	}
	if a1.Origin != OriginInferred {
		t.Errorf("expected origin inferred, got %q", a1.Origin)
	}
}

func TestParseReplyBareFence(t *testing.T) {
	fenced := "```\n{\"success\": true, \"command_type\": \"system\", \"action\": \"battery_info\", \"parameters\": {}}\n```"
	a, err := ParseReply(fenced)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if a.Operation != OpBatteryInfo {
		t.Errorf("expected battery_info, got %s", a.Operation)
	}
}

func TestParseReplyBackendFailure(t *testing.T) {
	_, err := ParseReply(`{"success": false, "error": "لم أفهم"}`)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if f.Reason != "لم أفهم" {
		t.Errorf("expected backend reason carried, got %q", f.Reason)
	}
}

func TestParseReplyMalformed(t *testing.T) {
	for _, s := range []string{"not json", "```\nnope\n```", `{"success": true, "action": 7}`} {
		if _, err := ParseReply(s); err == nil {
			t.Errorf("%q: expected failure", s)
		}
	}
}

func TestParseReplyUnknownOperation(t *testing.T) {
	_, err := ParseReply(`{"success": true, "command_type": "file", "action": "format_disk", "parameters": {}}`)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected *Failure for unknown op, got %v", err)
	}
}

func TestParseReplyCategoryFromVocabulary(t *testing.T) {
	// The model claims the wrong category; the vocabulary corrects it.
	a, err := ParseReply(`{"success": true, "command_type": "file", "action": "battery_info", "parameters": {}}`)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if a.Category != CategorySystem {
		t.Errorf("expected vocabulary category system, got %q", a.Category)
	}
}

func TestFallbackNotConfigured(t *testing.T) {
	f := NewFallback(config.LLMConfig{}, testLogger())
	_, err := f.Interpret(context.Background(), "do the thing", "")
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %v", err)
	}
	if failure.Reason != "fallback interpreter unavailable" {
		t.Errorf("unexpected reason %q", failure.Reason)
	}
}

func TestFallbackInterpret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"` +
			"```json\\n{\\\"success\\\": true, \\\"command_type\\\": \\\"system\\\", \\\"action\\\": \\\"storage_info\\\", \\\"parameters\\\": {}}\\n```" +
			`"}}]}`))
	}))
	defer srv.Close()

	f := NewFallback(config.LLMConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}, testLogger())

	a, err := f.Interpret(context.Background(), "مساحة الهاتف؟", "")
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if a.Operation != OpStorageInfo || a.Origin != OriginInferred {
		t.Errorf("unexpected action %+v", a)
	}
}

func TestFallbackBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFallback(config.LLMConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, testLogger())
	_, err := f.Interpret(context.Background(), "anything", "")
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *Failure, got %v", err)
	}
}

type stubBackend struct {
	action *Action
	err    error
	calls  int
}

func (s *stubBackend) Interpret(ctx context.Context, text, deviceContext string) (*Action, error) {
	s.calls++
	return s.action, s.err
}

func TestInterpreterPrefersRules(t *testing.T) {
	stub := &stubBackend{err: &Failure{Reason: "should not be called"}}
	in := New(stub, testLogger())

	a, err := in.Interpret(context.Background(), "اعرض ملفات", "")
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if a.Origin != OriginDirect {
		t.Errorf("expected direct origin, got %q", a.Origin)
	}
	if stub.calls != 0 {
		t.Errorf("backend must not be called on a rule hit, got %d calls", stub.calls)
	}
}

func TestInterpreterFallsThrough(t *testing.T) {
	stub := &stubBackend{action: &Action{
		Category: CategorySystem, Operation: OpBatteryInfo,
		Parameters: map[string]string{}, Origin: OriginInferred,
	}}
	in := New(stub, testLogger())

	a, err := in.Interpret(context.Background(), "هل هاتفي بخير؟", "")
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if a.Origin != OriginInferred || stub.calls != 1 {
		t.Errorf("expected single backend call, got action %+v calls %d", a, stub.calls)
	}
}
