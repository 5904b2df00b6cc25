// Package services – UserService (local user registry).
//
// Tracks which real Matrix accounts are claimed by Wazo identities.
// Resolution works both ways: from a Matrix account the candidate Wazo
// UUID is derived through the ghost naming scheme (and may be persisted
// on first sight), while from a Wazo UUID only an existing link can be
// returned; a Matrix account is never manufactured from a Wazo ID.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
	"github.com/tbourn/go-wazo-bridge/internal/repo"
)

// UserRepo defines the repository contract required by UserService.
type UserRepo interface {
	// CreateUser inserts a user row linking mxid to wazoUUID.
	CreateUser(ctx context.Context, db *gorm.DB, mxid string, wazoUUID *string) (*domain.User, error)

	// GetUserByMXID fetches a user row, or repo.ErrNotFound.
	GetUserByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.User, error)

	// GetUserByWazoUUID fetches the user linked to a Wazo identity, or
	// repo.ErrNotFound.
	GetUserByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.User, error)
}

// UserService resolves Matrix accounts and Wazo identities against the
// users table, with the same cache-then-store-then-create shape as the
// other registries.
type UserService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the user repository used by this service.
	Repo UserRepo
	// Puppets provides the deterministic naming scheme used to derive a
	// Wazo identity candidate from a Matrix account ID.
	Puppets *PuppetService

	// Log is the service logger.
	Log zerolog.Logger

	byMXID *keyedCache[*domain.User]
	byUUID *keyedCache[*domain.User]
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, r UserRepo, puppets *PuppetService, log zerolog.Logger) *UserService {
	return &UserService{
		DB:      db,
		Repo:    r,
		Puppets: puppets,
		Log:     log,
		byMXID:  newKeyedCache[*domain.User](),
		byUUID:  newKeyedCache[*domain.User](),
	}
}

// GetByMXID resolves a Matrix account to its user handle. The candidate
// Wazo identity is derived from the MXID through the ghost naming
// scheme; when no candidate can be derived the account is outside the
// bridge's namespace and (nil, nil) is returned without creating
// anything. With allowCreate, an unseen account is persisted with its
// derived link.
func (s *UserService) GetByMXID(ctx context.Context, mxid string, allowCreate bool) (*domain.User, error) {
	uuid := s.Puppets.UUIDFromMXID(mxid)
	if uuid == "" {
		return nil, nil
	}
	u, err := s.byMXID.getOrLoad(mxid, func() (*domain.User, error) {
		u, err := s.Repo.GetUserByMXID(ctx, s.DB, mxid)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		if !allowCreate {
			return nil, ErrNotFound
		}
		u, err = s.Repo.CreateUser(ctx, s.DB, mxid, &uuid)
		if err != nil {
			// Lost an insert race: the row exists now.
			if u, rerr := s.Repo.GetUserByMXID(ctx, s.DB, mxid); rerr == nil {
				return u, nil
			}
			return nil, err
		}
		return u, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if u.WazoUUID != nil {
		s.byUUID.store(*u.WazoUUID, u)
	}
	return u, nil
}

// GetByWazoUUID returns the Matrix account linked to a Wazo identity,
// or (nil, nil) when none is known. This path never creates: a real
// Matrix account cannot be conjured from a Wazo UUID alone.
func (s *UserService) GetByWazoUUID(ctx context.Context, wazoUUID string) (*domain.User, error) {
	u, err := s.byUUID.getOrLoad(wazoUUID, func() (*domain.User, error) {
		u, err := s.Repo.GetUserByWazoUUID(ctx, s.DB, wazoUUID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return u, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s.byMXID.store(u.MXID, u)
	return u, nil
}
