package repo

import (
	"context"
	"errors"
	"testing"
)

func TestUserRepo_CreateAndResolveBothWays(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	uuid := "wazo-user-1"
	if _, err := CreateUser(ctx, db, "@alice:example.org", &uuid); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	byMXID, err := GetUserByMXID(ctx, db, "@alice:example.org")
	if err != nil {
		t.Fatalf("GetUserByMXID: %v", err)
	}
	if byMXID.WazoUUID == nil || *byMXID.WazoUUID != uuid {
		t.Fatalf("unexpected user %+v", byMXID)
	}

	byUUID, err := GetUserByWazoUUID(ctx, db, uuid)
	if err != nil {
		t.Fatalf("GetUserByWazoUUID: %v", err)
	}
	if byUUID.MXID != "@alice:example.org" {
		t.Fatalf("unexpected user %+v", byUUID)
	}

	if _, err := GetUserByWazoUUID(ctx, db, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUserRepo_SetWazoUUID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreateUser(ctx, db, "@bob:example.org", nil); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	uuid := "wazo-user-2"
	if err := SetUserWazoUUID(ctx, db, "@bob:example.org", &uuid); err != nil {
		t.Fatalf("SetUserWazoUUID: %v", err)
	}
	got, err := GetUserByMXID(ctx, db, "@bob:example.org")
	if err != nil {
		t.Fatalf("GetUserByMXID: %v", err)
	}
	if got.WazoUUID == nil || *got.WazoUUID != uuid {
		t.Fatalf("link not persisted: %+v", got)
	}

	if err := SetUserWazoUUID(ctx, db, "@ghost:example.org", &uuid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for missing account, got %v", err)
	}
}
