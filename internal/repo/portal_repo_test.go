package repo

import (
	"context"
	"errors"
	"testing"
)

func TestPortalRepo_CreateAndLookup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p, err := CreatePortal(ctx, db, "room-1")
	if err != nil {
		t.Fatalf("CreatePortal: %v", err)
	}
	if p.WazoUUID != "room-1" || p.MXID != nil {
		t.Fatalf("unexpected portal %+v", p)
	}

	got, err := GetPortalByWazoUUID(ctx, db, "room-1")
	if err != nil {
		t.Fatalf("GetPortalByWazoUUID: %v", err)
	}
	if got.WazoUUID != "room-1" {
		t.Fatalf("got %+v", got)
	}

	if _, err := GetPortalByWazoUUID(ctx, db, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPortalRepo_DuplicateInsertFails(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreatePortal(ctx, db, "room-1"); err != nil {
		t.Fatalf("CreatePortal: %v", err)
	}
	// The loser of a create race must see a constraint error and re-read.
	if _, err := CreatePortal(ctx, db, "room-1"); err == nil {
		t.Fatal("expected primary key violation on duplicate wazo_uuid")
	}
	if _, err := GetPortalByWazoUUID(ctx, db, "room-1"); err != nil {
		t.Fatalf("re-read after conflict: %v", err)
	}
}

func TestPortalRepo_SetMXIDIsFirstWins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreatePortal(ctx, db, "room-1"); err != nil {
		t.Fatalf("CreatePortal: %v", err)
	}
	if err := SetPortalMXID(ctx, db, "room-1", "!a:example.org"); err != nil {
		t.Fatalf("SetPortalMXID: %v", err)
	}
	// Second assignment loses: zero rows affected.
	if err := SetPortalMXID(ctx, db, "room-1", "!b:example.org"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for second assignment, got %v", err)
	}

	got, err := GetPortalByMXID(ctx, db, "!a:example.org")
	if err != nil {
		t.Fatalf("GetPortalByMXID: %v", err)
	}
	if got.WazoUUID != "room-1" || got.MXID == nil || *got.MXID != "!a:example.org" {
		t.Fatalf("unexpected portal %+v", got)
	}
}
