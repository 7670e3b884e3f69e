package client

import (
	"sync"
	"testing"
	"time"

	"chat-core/internal/models"
)

// fakeSender records outbound frames and optionally confirms them.
type fakeSender struct {
	mu          sync.Mutex
	frames      []models.Frame
	sendErr     error
	confirmErr  error
	autoConfirm bool
}

func (f *fakeSender) Send(frame models.Frame, confirm func(error)) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	confirmErr := f.confirmErr
	auto := f.autoConfirm
	f.mu.Unlock()

	if auto && confirm != nil {
		confirm(confirmErr)
	}
	return nil
}

func (f *fakeSender) sent() []models.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make([]models.Frame, len(f.frames))
	copy(frames, f.frames)
	return frames
}

func messageFrame(t *testing.T, frameType models.FrameType, msg models.Message) models.Frame {
	t.Helper()
	frame, err := models.NewFrame(frameType, models.MessageEnvelope{
		ConversationID: msg.ConversationID,
		Data:           msg,
	})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestSendOptimisticPending(t *testing.T) {
	sender := &fakeSender{}
	store := NewDeliveryStore("alice", sender)

	msg, err := store.Send("c1", "hello", nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Status != StatusPending {
		t.Errorf("unconfirmed send should be pending, got %s", msg.Status)
	}
	if msg.SenderID != "alice" || msg.ID == "" {
		t.Errorf("optimistic message malformed: %+v", msg)
	}

	msgs := store.Messages("c1")
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Errorf("message must render immediately, got %v", msgs)
	}

	frames := sender.sent()
	if len(frames) != 1 || frames[0].Type != models.FrameChatMessage {
		t.Fatalf("expected one chat_message on the wire, got %v", frames)
	}
	var payload models.ChatMessagePayload
	if err := frames[0].DecodeData(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.ID != msg.ID {
		t.Errorf("wire frame must carry the idempotency key %s, got %s", msg.ID, payload.ID)
	}
}

func TestSendConfirmAdvancesToSent(t *testing.T) {
	sender := &fakeSender{autoConfirm: true}
	store := NewDeliveryStore("alice", sender)

	msg, err := store.Send("c1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != StatusSent {
		t.Errorf("confirmed write should advance to sent, got %s", msg.Status)
	}
}

func TestSendQueueFullFails(t *testing.T) {
	sender := &fakeSender{sendErr: ErrQueueFull}
	store := NewDeliveryStore("alice", sender)

	msg, err := store.Send("c1", "hello", nil)
	if err == nil {
		t.Fatalf("expected queue-full error")
	}
	if msg.Status != StatusFailed {
		t.Errorf("rejected send must be failed, got %s", msg.Status)
	}
	// The failed message stays visible so the user can retry it.
	if msgs := store.Messages("c1"); len(msgs) != 1 {
		t.Errorf("failed message must remain rendered, got %d", len(msgs))
	}
}

func TestSendConfirmErrorFails(t *testing.T) {
	sender := &fakeSender{autoConfirm: true, confirmErr: ErrQueueFull}
	store := NewDeliveryStore("alice", sender)

	msg, err := store.Send("c1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != StatusFailed {
		t.Errorf("confirm error must mark the message failed, got %s", msg.Status)
	}
}

func TestEchoMergesByID(t *testing.T) {
	sender := &fakeSender{autoConfirm: true}
	store := NewDeliveryStore("alice", sender)

	msg, err := store.Send("c1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}

	serverTime := time.Now().Add(time.Second).UTC()
	store.HandleMessageFrame(messageFrame(t, models.FrameMessageSent, models.Message{
		ID: msg.ID, ConversationID: "c1", SenderID: "alice",
		Content: "hello", CreatedAt: serverTime,
	}))

	msgs := store.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("echo must merge, not duplicate: got %d messages", len(msgs))
	}
	if msgs[0].Status != StatusDelivered {
		t.Errorf("merged message should be delivered, got %s", msgs[0].Status)
	}
	if !msgs[0].CreatedAt.Equal(serverTime) {
		t.Errorf("server timestamp wins on merge")
	}
}

func TestEchoDoesNotResurrectFailed(t *testing.T) {
	sender := &fakeSender{sendErr: ErrQueueFull}
	store := NewDeliveryStore("alice", sender)

	msg, _ := store.Send("c1", "hello", nil)

	store.HandleMessageFrame(messageFrame(t, models.FrameMessageSent, models.Message{
		ID: msg.ID, ConversationID: "c1", Content: "hello", CreatedAt: time.Now(),
	}))

	if got := store.Messages("c1")[0].Status; got != StatusFailed {
		t.Errorf("failed status must not be overwritten by a late echo, got %s", got)
	}
}

func TestRedeliveryAbsorbed(t *testing.T) {
	store := NewDeliveryStore("alice", &fakeSender{})

	peer := models.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Content: "hi", CreatedAt: time.Now()}
	frame := messageFrame(t, models.FrameNewMessage, peer)

	store.HandleMessageFrame(frame)
	store.HandleMessageFrame(frame) // at-least-once redelivery
	store.HandleMessageFrame(frame)

	msgs := store.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("redelivered message must render once, got %d", len(msgs))
	}
	if msgs[0].Status != StatusDelivered {
		t.Errorf("peer message should be delivered, got %s", msgs[0].Status)
	}
}

func TestMergeHistoryOrdersAndDedupes(t *testing.T) {
	store := NewDeliveryStore("alice", &fakeSender{autoConfirm: true})

	base := time.Now().UTC()
	store.HandleMessageFrame(messageFrame(t, models.FrameNewMessage, models.Message{
		ID: "m3", ConversationID: "c1", SenderID: "bob", Content: "newest", CreatedAt: base,
	}))

	store.MergeHistory("c1", []*models.Message{
		{ID: "m1", ConversationID: "c1", Content: "oldest", CreatedAt: base.Add(-2 * time.Minute)},
		{ID: "m2", ConversationID: "c1", Content: "older", CreatedAt: base.Add(-time.Minute)},
		{ID: "m3", ConversationID: "c1", Content: "newest", CreatedAt: base}, // page overlap
	})

	msgs := store.Messages("c1")
	if len(msgs) != 3 {
		t.Fatalf("overlapping history entry must dedupe, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("merged list not ordered at %d: %v before %v", i, msgs[i].CreatedAt, msgs[i-1].CreatedAt)
		}
	}
	if msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Errorf("unexpected order: %s %s %s", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
}

func TestHandleNewConversationDedupes(t *testing.T) {
	store := NewDeliveryStore("alice", &fakeSender{})

	conv := models.Conversation{ID: "c1", Type: models.ConversationPrivate, CreatorID: "alice", CounterpartID: "bob"}
	frame, err := models.NewFrame(models.FrameNewConversation, models.ConversationEnvelope{
		ConversationID: conv.ID, Data: conv,
	})
	if err != nil {
		t.Fatal(err)
	}

	store.HandleNewConversation(frame)
	store.HandleNewConversation(frame)

	if got := len(store.Conversations()); got != 1 {
		t.Errorf("redelivered announcement must record once, got %d", got)
	}
}

func TestClear(t *testing.T) {
	store := NewDeliveryStore("alice", &fakeSender{autoConfirm: true})

	msg, _ := store.Send("c1", "hello", nil)
	store.Clear("c1")

	if msgs := store.Messages("c1"); len(msgs) != 0 {
		t.Errorf("cleared conversation must be empty, got %d", len(msgs))
	}

	// The id index is cleared too: a later echo appends fresh.
	store.HandleMessageFrame(messageFrame(t, models.FrameNewMessage, models.Message{
		ID: msg.ID, ConversationID: "c1", Content: "hello", CreatedAt: time.Now(),
	}))
	if msgs := store.Messages("c1"); len(msgs) != 1 {
		t.Errorf("echo after clear should re-append, got %d", len(msgs))
	}
}
