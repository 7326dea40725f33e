package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/codecollab/backend/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func joinedPair(t *testing.T, f *fixture) (*Conn, *Conn) {
	t.Helper()
	alice := f.connect(t, userAlice)
	bob := f.connect(t, userBob)
	f.join(t, alice, f.session.ID)
	f.join(t, bob, f.session.ID)
	drain(alice)
	drain(bob)
	return alice, bob
}

func fileContent(t *testing.T, f *fixture, fileID string) string {
	t.Helper()
	file, err := f.store.GetFile(context.Background(), fileID)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	return file.Content
}

func TestCodeChangeBroadcastsToRoomExceptSender(t *testing.T) {
	f := newFixture(t)
	alice, bob := joinedPair(t, f)
	outsider := f.connect(t, userAlice)
	f.join(t, outsider, f.other.ID)
	drain(outsider)

	f.send(t, bob, map[string]any{"type": "code_change", "fileId": f.file.ID, "content": "package main\n\nfunc main() {}"})

	frame := expectFrame(t, alice, TypeCodeChange)
	if frame.FileID != f.file.ID || frame.UserID != userBob {
		t.Fatalf("unexpected code change frame %+v", frame)
	}
	if frame.Content != "package main\n\nfunc main() {}" {
		t.Fatalf("unexpected content %q", frame.Content)
	}
	expectNoFrame(t, bob)
	expectNoFrame(t, outsider)
	if content := fileContent(t, f, f.file.ID); content != frame.Content {
		t.Fatalf("expected storage to hold the new content, got %q", content)
	}
}

func TestCodeChangeForFileInAnotherRoomIsNoop(t *testing.T) {
	f := newFixture(t)
	alice, bob := joinedPair(t, f)

	f.send(t, bob, map[string]any{"type": "code_change", "fileId": f.otherDoc.ID, "content": "tampered"})

	expectNoFrame(t, alice)
	expectNoFrame(t, bob)
	if content := fileContent(t, f, f.otherDoc.ID); content != f.otherDoc.Content {
		t.Fatalf("expected foreign file to be untouched, got %q", content)
	}
}

func TestCodeChangeWithoutUsableFileIsDropped(t *testing.T) {
	f := newFixture(t)
	alice, bob := joinedPair(t, f)

	f.send(t, bob, map[string]any{"type": "code_change", "content": "no file"})
	f.send(t, bob, map[string]any{"type": "code_change", "fileId": "missing", "content": "no file"})

	expectNoFrame(t, alice)
	expectNoFrame(t, bob)
	if content := fileContent(t, f, f.file.ID); content != f.file.Content {
		t.Fatalf("expected file to be untouched, got %q", content)
	}
}

func TestCodeChangeRequiresJoinedConnection(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, userAlice)
	f.join(t, alice, f.session.ID)
	drain(alice)
	bob := f.connect(t, userBob)

	f.send(t, bob, map[string]any{"type": "code_change", "fileId": f.file.ID, "content": "sneaky"})

	expectNoFrame(t, alice)
	if content := fileContent(t, f, f.file.ID); content != f.file.Content {
		t.Fatalf("expected file to be untouched, got %q", content)
	}
}

func TestSequentialCodeChangesKeepLastWriter(t *testing.T) {
	f := newFixture(t)
	alice, bob := joinedPair(t, f)

	f.send(t, alice, map[string]any{"type": "code_change", "fileId": f.file.ID, "content": "first version"})
	f.send(t, bob, map[string]any{"type": "code_change", "fileId": f.file.ID, "content": "second version"})

	if content := fileContent(t, f, f.file.ID); content != "second version" {
		t.Fatalf("expected last writer to win, got %q", content)
	}
	if frame := expectFrame(t, bob, TypeCodeChange); frame.Content != "first version" {
		t.Fatalf("expected bob to see alice's edit, got %q", frame.Content)
	}
	if frame := expectFrame(t, alice, TypeCodeChange); frame.Content != "second version" {
		t.Fatalf("expected alice to see bob's edit, got %q", frame.Content)
	}
}

func TestChatMessageReachesWholeRoomIncludingSender(t *testing.T) {
	f := newFixture(t)
	alice, bob := joinedPair(t, f)

	f.send(t, bob, map[string]any{"type": "chat_message", "content": "hello there"})

	for _, conn := range []*Conn{alice, bob} {
		frame := expectFrame(t, conn, TypeChatMessage)
		var message store.Message
		if err := json.Unmarshal(frame.Message, &message); err != nil {
			t.Fatalf("decode chat message: %v", err)
		}
		if message.ID == "" || message.CreatedAt.IsZero() {
			t.Fatalf("expected persisted id and timestamp, got %+v", message)
		}
		if message.UserID != userBob || message.Username != "Bob" || message.Content != "hello there" {
			t.Fatalf("unexpected chat message %+v", message)
		}
	}

	history, err := f.store.ListMessages(context.Background(), f.session.ID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one persisted message, got %d", len(history))
	}
}

func TestChatMessageOutsideRoomIsDropped(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, userBob)

	f.send(t, bob, map[string]any{"type": "chat_message", "content": "anyone?"})

	expectNoFrame(t, bob)
}

func TestMalformedAndUnknownFramesAreDropped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := newFixtureWithLogger(t, zap.New(core))
	alice, bob := joinedPair(t, f)

	frames := []string{
		`not json`,
		`{"userId":"alice"}`,
		`{"type":"auth"}`,
		`{"type":"join_session"}`,
		`{"type":"cursor_update"}`,
		`{"type":"code_change","fileId":"x"}`,
		`{"type":"chat_message","content":"   "}`,
		`{"type":"typing_indicator","active":true}`,
	}
	for _, raw := range frames {
		f.hub.Receive(context.Background(), bob, []byte(raw))
	}

	expectNoFrame(t, alice)
	expectNoFrame(t, bob)
	if bob.SessionID() != f.session.ID || bob.UserID() != userBob {
		t.Fatalf("expected connection state to be unchanged")
	}
	if dropped := logs.FilterMessage("inbound frame dropped").Len(); dropped != len(frames) {
		t.Fatalf("expected %d dropped frame logs, got %d", len(frames), dropped)
	}
}

func TestBoundIdentityRejectsForeignAuth(t *testing.T) {
	f := newFixture(t)
	conn := f.hub.Connect("test", userBob)

	f.send(t, conn, map[string]any{"type": "auth", "userId": userAlice})
	if conn.UserID() != "" {
		t.Fatalf("expected foreign identity to be ignored, got %q", conn.UserID())
	}

	f.send(t, conn, map[string]any{"type": "auth", "userId": userBob})
	if conn.UserID() != userBob {
		t.Fatalf("expected bound identity to be accepted, got %q", conn.UserID())
	}
}

type failingChatGateway struct {
	*store.Store
}

func (failingChatGateway) CreateMessage(context.Context, string, string, string) (store.Message, error) {
	return store.Message{}, errors.New("database unavailable")
}

func TestGatewayFailureOnChatSendsErrorFrame(t *testing.T) {
	f := newFixture(t)
	h, err := New(Config{Gateway: failingChatGateway{Store: f.store}})
	if err != nil {
		t.Fatalf("create hub: %v", err)
	}
	f.hub = h
	alice, bob := joinedPair(t, f)

	f.send(t, bob, map[string]any{"type": "chat_message", "content": "lost"})

	frame := expectFrame(t, bob, TypeError)
	if len(frame.Message) == 0 {
		t.Fatalf("expected error message text")
	}
	expectNoFrame(t, alice)
	if bob.SessionID() != f.session.ID {
		t.Fatalf("expected connection to stay joined after a gateway failure")
	}
}
