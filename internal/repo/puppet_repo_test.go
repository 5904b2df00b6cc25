package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
)

func TestPuppetRepo_CreateAndRegister(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &domain.Puppet{WazoUUID: "user-1", Username: "alice"}
	if err := CreatePuppet(ctx, db, p); err != nil {
		t.Fatalf("CreatePuppet: %v", err)
	}

	got, err := GetPuppetByWazoUUID(ctx, db, "user-1")
	if err != nil {
		t.Fatalf("GetPuppetByWazoUUID: %v", err)
	}
	if got.IsRegistered {
		t.Fatal("fresh puppet must be unregistered")
	}
	if got.AccessToken != "" {
		t.Fatal("fresh puppet must have no session credentials")
	}

	if err := MarkPuppetRegistered(ctx, db, "user-1", "@wazo_user-1:example.org", "tok", "https://hs.example.org"); err != nil {
		t.Fatalf("MarkPuppetRegistered: %v", err)
	}
	got, err = GetPuppetByWazoUUID(ctx, db, "user-1")
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if !got.IsRegistered || got.AccessToken != "tok" || got.CustomMXID != "@wazo_user-1:example.org" {
		t.Fatalf("registration not persisted: %+v", got)
	}

	// Registration is first-wins: a second attempt affects no rows.
	if err := MarkPuppetRegistered(ctx, db, "user-1", "@other:example.org", "tok2", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound on repeat registration, got %v", err)
	}
}

func TestPuppetRepo_UpdateNamesAndCursor(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := CreatePuppet(ctx, db, &domain.Puppet{WazoUUID: "user-2"}); err != nil {
		t.Fatalf("CreatePuppet: %v", err)
	}
	if err := UpdatePuppetNames(ctx, db, "user-2", "Bob", "Binder", "bob"); err != nil {
		t.Fatalf("UpdatePuppetNames: %v", err)
	}
	if err := SetPuppetNextBatch(ctx, db, "user-2", "s123"); err != nil {
		t.Fatalf("SetPuppetNextBatch: %v", err)
	}

	got, err := GetPuppetByWazoUUID(ctx, db, "user-2")
	if err != nil {
		t.Fatalf("GetPuppetByWazoUUID: %v", err)
	}
	if got.FirstName != "Bob" || got.LastName != "Binder" || got.Username != "bob" || got.NextBatch != "s123" {
		t.Fatalf("updates not persisted: %+v", got)
	}
}
