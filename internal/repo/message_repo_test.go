package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
)

func TestMessageRepo_RecordAndDedupLookup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	m := &domain.Message{
		MXID:         "$evt1:example.org",
		MXRoom:       "!room:example.org",
		WazoUUID:     "msg-1",
		WazoRoomUUID: "room-1",
		Content:      "hi",
		Timestamp:    1700000000000,
	}
	if err := CreateMessage(ctx, db, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := GetMessageByWazoUUID(ctx, db, "msg-1")
	if err != nil {
		t.Fatalf("GetMessageByWazoUUID: %v", err)
	}
	if got.MXID != m.MXID || got.Content != "hi" {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := GetMessageByWazoUUID(ctx, db, "msg-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for unseen message, got %v", err)
	}

	// One row per Matrix event id.
	if err := CreateMessage(ctx, db, &domain.Message{MXID: m.MXID, MXRoom: m.MXRoom}); err == nil {
		t.Fatal("expected primary key violation on duplicate mxid")
	}

	n, err := CountMessagesInRoom(ctx, db, "!room:example.org")
	if err != nil {
		t.Fatalf("CountMessagesInRoom: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d; want 1", n)
	}
}
