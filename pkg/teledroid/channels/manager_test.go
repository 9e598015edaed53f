package channels

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

// fakeChannel is a minimal in-memory Channel for manager tests.
type fakeChannel struct {
	name      string
	incoming  chan *IncomingMessage
	connected bool
	sent      []*OutgoingMessage
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, incoming: make(chan *IncomingMessage, 4)}
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Connect(ctx context.Context) error {
	f.connected = true
	// Close the stream when the manager context ends, like the real
	// channels do, so listener goroutines can drain out.
	go func() {
		<-ctx.Done()
		close(f.incoming)
	}()
	return nil
}
func (f *fakeChannel) Disconnect() error {
	f.connected = false
	return nil
}
func (f *fakeChannel) Send(ctx context.Context, to string, msg *OutgoingMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) Receive() <-chan *IncomingMessage { return f.incoming }
func (f *fakeChannel) IsConnected() bool                { return f.connected }
func (f *fakeChannel) Health() HealthStatus             { return HealthStatus{Connected: f.connected} }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestManagerAggregatesMessages(t *testing.T) {
	m := NewManager(testLogger())
	tg := newFakeChannel("telegram")
	dc := newFakeChannel("discord")

	if err := m.Register(tg); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(dc); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(newFakeChannel("telegram")); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tg.incoming <- &IncomingMessage{Channel: "telegram", Content: "from tg"}
	dc.incoming <- &IncomingMessage{Channel: "discord", Content: "from dc"}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-m.Messages():
			got[msg.Channel] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for aggregated message")
		}
	}
	if !got["telegram"] || !got["discord"] {
		t.Errorf("expected messages from both channels, got %v", got)
	}

	m.Stop()
}

func TestManagerSendRouting(t *testing.T) {
	m := NewManager(testLogger())
	tg := newFakeChannel("telegram")
	if err := m.Register(tg); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if err := m.Send(context.Background(), "telegram", "123", &OutgoingMessage{Content: "hi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tg.sent) != 1 || tg.sent[0].Content != "hi" {
		t.Errorf("message not routed, got %v", tg.sent)
	}

	if err := m.Send(context.Background(), "slack", "123", &OutgoingMessage{}); err == nil {
		t.Error("expected unknown channel to fail")
	}
}

func TestManagerStartWithoutChannels(t *testing.T) {
	m := NewManager(testLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("expected nil for no registered channels, got %v", err)
	}
	if m.HasChannels() {
		t.Error("expected no channels")
	}
}
