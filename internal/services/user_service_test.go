package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newUserService(users *fakeUserRepo) *UserService {
	puppets := newPuppetService(newFakePuppetRepo(), newFakeMatrixClient())
	return NewUserService(nil, users, puppets, zerolog.Nop())
}

func TestUserGetByMXID_OutsideNamespaceCreatesNothing(t *testing.T) {
	users := newFakeUserRepo()
	s := newUserService(users)

	u, err := s.GetByMXID(context.Background(), "@someone:elsewhere.net", true)
	if err != nil {
		t.Fatalf("GetByMXID: %v", err)
	}
	if u != nil {
		t.Fatalf("want nil handle for foreign mxid, got %+v", u)
	}
	if users.creates != 0 {
		t.Fatalf("creates = %d; want 0", users.creates)
	}
}

func TestUserGetByMXID_CreatesWithDerivedLink(t *testing.T) {
	users := newFakeUserRepo()
	s := newUserService(users)
	ctx := context.Background()

	mxid := "@wazo_u1:example.org"
	u, err := s.GetByMXID(ctx, mxid, true)
	if err != nil {
		t.Fatalf("GetByMXID: %v", err)
	}
	if u == nil || u.MXID != mxid {
		t.Fatalf("unexpected handle %+v", u)
	}
	if u.WazoUUID == nil || *u.WazoUUID != "u1" {
		t.Fatalf("derived link = %v; want u1", u.WazoUUID)
	}

	// Second resolution hits the cache, not the store.
	again, err := s.GetByMXID(ctx, mxid, true)
	if err != nil {
		t.Fatalf("second GetByMXID: %v", err)
	}
	if again != u {
		t.Fatal("want the shared handle on repeat resolution")
	}
	if users.creates != 1 {
		t.Fatalf("creates = %d; want 1", users.creates)
	}
}

func TestUserGetByMXID_NoCreateReturnsNil(t *testing.T) {
	users := newFakeUserRepo()
	s := newUserService(users)

	u, err := s.GetByMXID(context.Background(), "@wazo_u2:example.org", false)
	if err != nil {
		t.Fatalf("GetByMXID: %v", err)
	}
	if u != nil {
		t.Fatalf("want nil without allowCreate, got %+v", u)
	}
	if users.creates != 0 {
		t.Fatalf("creates = %d; want 0", users.creates)
	}
}

func TestUserGetByWazoUUID_LookupOnly(t *testing.T) {
	users := newFakeUserRepo()
	users.seed("@alice:example.org", "wazo-alice")
	s := newUserService(users)
	ctx := context.Background()

	u, err := s.GetByWazoUUID(ctx, "wazo-alice")
	if err != nil {
		t.Fatalf("GetByWazoUUID: %v", err)
	}
	if u == nil || u.MXID != "@alice:example.org" {
		t.Fatalf("unexpected handle %+v", u)
	}

	// Unknown identities resolve to nil and never create anything.
	u, err = s.GetByWazoUUID(ctx, "wazo-nobody")
	if err != nil {
		t.Fatalf("GetByWazoUUID miss: %v", err)
	}
	if u != nil {
		t.Fatalf("want nil for unknown identity, got %+v", u)
	}
	if users.creates != 0 {
		t.Fatalf("creates = %d; want 0", users.creates)
	}
}
