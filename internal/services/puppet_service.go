// Package services – PuppetService (ghost registry).
//
// One ghost Matrix account exists per Wazo user. Ghosts are created
// lazily in the directory on first reference and registered with the
// homeserver on first need; both paths are idempotent and serialized
// per Wazo UUID. The ghost's Matrix localpart is a pure function of the
// Wazo UUID, so the reverse mapping is computed, never queried.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
	"github.com/tbourn/go-wazo-bridge/internal/matrix"
	"github.com/tbourn/go-wazo-bridge/internal/repo"
)

// PuppetRepo defines the repository contract required by PuppetService.
type PuppetRepo interface {
	// CreatePuppet inserts an unregistered puppet row.
	CreatePuppet(ctx context.Context, db *gorm.DB, p *domain.Puppet) error

	// GetPuppetByWazoUUID fetches a puppet row, or repo.ErrNotFound.
	GetPuppetByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Puppet, error)

	// MarkPuppetRegistered persists session credentials first-wins.
	MarkPuppetRegistered(ctx context.Context, db *gorm.DB, wazoUUID, customMXID, accessToken, baseURL string) error

	// UpdatePuppetNames refreshes display-name fields.
	UpdatePuppetNames(ctx context.Context, db *gorm.DB, wazoUUID, firstName, lastName, username string) error
}

// Puppet is the shared ghost handle returned by the service. The row is
// held privately; concurrent readers observe registration only after
// the session credentials have been fully persisted.
type Puppet struct {
	mu  sync.RWMutex
	row domain.Puppet
}

// WazoUUID returns the Wazo user identifier of the ghost.
func (p *Puppet) WazoUUID() string {
	return p.row.WazoUUID
}

// Registered reports whether the ghost's homeserver account exists.
func (p *Puppet) Registered() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.row.IsRegistered
}

// Session returns the ghost's Matrix session as one snapshot. Both
// values are empty until the puppet is registered.
func (p *Puppet) Session() (mxid, accessToken string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.row.CustomMXID, p.row.AccessToken
}

// Names returns the ghost's profile name fields as one snapshot.
func (p *Puppet) Names() (first, last, username string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.row.FirstName, p.row.LastName, p.row.Username
}

// adoptSession publishes the session credentials and flips the
// registration flag in one step. Called by the owning service only,
// after the store write succeeded.
func (p *Puppet) adoptSession(mxid, accessToken, baseURL string) {
	p.mu.Lock()
	p.row.CustomMXID = mxid
	p.row.AccessToken = accessToken
	p.row.BaseURL = baseURL
	p.row.IsRegistered = true
	p.mu.Unlock()
}

// setNames publishes refreshed profile names on the handle. Called by
// the owning service only, after the store write succeeded.
func (p *Puppet) setNames(first, last string) {
	p.mu.Lock()
	p.row.FirstName = first
	p.row.LastName = last
	p.mu.Unlock()
}

// PuppetService manages ghost accounts: lazy directory rows, one-time
// homeserver registration, and opportunistic profile sync.
type PuppetService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the puppet repository used by this service.
	Repo PuppetRepo
	// Matrix is the homeserver client ghosts are registered against.
	Matrix matrix.Client

	// UserPrefix is the ghost localpart prefix, e.g. "wazo_".
	UserPrefix string
	// HomeserverDomain is the server name ghost MXIDs live under.
	HomeserverDomain string

	// Log is the service logger.
	Log zerolog.Logger

	cache    *keyedCache[*Puppet]
	regGroup singleflight.Group
}

// NewPuppetService constructs a PuppetService.
func NewPuppetService(db *gorm.DB, r PuppetRepo, mx matrix.Client, userPrefix, hsDomain string, log zerolog.Logger) *PuppetService {
	return &PuppetService{
		DB:               db,
		Repo:             r,
		Matrix:           mx,
		UserPrefix:       userPrefix,
		HomeserverDomain: hsDomain,
		Log:              log,
		cache:            newKeyedCache[*Puppet](),
	}
}

// LocalpartFor derives the ghost localpart for a Wazo user UUID.
func (s *PuppetService) LocalpartFor(wazoUUID string) string {
	return s.UserPrefix + wazoUUID
}

// MXIDFor derives the full ghost MXID for a Wazo user UUID.
func (s *PuppetService) MXIDFor(wazoUUID string) string {
	return fmt.Sprintf("@%s:%s", s.LocalpartFor(wazoUUID), s.HomeserverDomain)
}

// UUIDFromMXID is the pure inverse of MXIDFor: it extracts the Wazo
// UUID from a ghost MXID, or returns "" when the MXID does not belong
// to this bridge's ghost namespace. No store round-trip is involved.
func (s *PuppetService) UUIDFromMXID(mxid string) string {
	suffix := ":" + s.HomeserverDomain
	if !strings.HasPrefix(mxid, "@") || !strings.HasSuffix(mxid, suffix) {
		return ""
	}
	localpart := strings.TrimSuffix(strings.TrimPrefix(mxid, "@"), suffix)
	if !strings.HasPrefix(localpart, s.UserPrefix) {
		return ""
	}
	uuid := strings.TrimPrefix(localpart, s.UserPrefix)
	if uuid == "" {
		return ""
	}
	return uuid
}

// GetOrCreate returns the shared puppet handle for a Wazo user,
// creating the unregistered directory row on first reference. All
// concurrent callers for the same UUID receive the same handle.
func (s *PuppetService) GetOrCreate(ctx context.Context, wazoUUID string) (*Puppet, error) {
	return s.cache.getOrLoad(wazoUUID, func() (*Puppet, error) {
		row, err := s.Repo.GetPuppetByWazoUUID(ctx, s.DB, wazoUUID)
		if err == nil {
			return &Puppet{row: *row}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		fresh := &domain.Puppet{WazoUUID: wazoUUID}
		if err := s.Repo.CreatePuppet(ctx, s.DB, fresh); err != nil {
			// Lost an insert race against another process: the row is
			// there now, re-read it.
			if row, rerr := s.Repo.GetPuppetByWazoUUID(ctx, s.DB, wazoUUID); rerr == nil {
				return &Puppet{row: *row}, nil
			}
			return nil, err
		}
		return &Puppet{row: *fresh}, nil
	})
}

// EnsureRegistered provisions the ghost's homeserver account if that
// has not happened yet. The registration is serialized per UUID and the
// handle adopts the session in one locked step, so no reader observes a
// registered puppet without credentials.
func (s *PuppetService) EnsureRegistered(ctx context.Context, p *Puppet) error {
	if p.Registered() {
		return nil
	}
	_, err, _ := s.regGroup.Do(p.WazoUUID(), func() (any, error) {
		if p.Registered() {
			return nil, nil
		}
		creds, err := s.Matrix.RegisterUser(ctx, s.LocalpartFor(p.WazoUUID()))
		if err != nil {
			return nil, &ExternalAPIError{Network: "matrix", Op: "register", Err: err}
		}
		if err := s.Repo.MarkPuppetRegistered(ctx, s.DB, p.WazoUUID(), creds.UserID, creds.AccessToken, creds.BaseURL); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// Another process registered first; adopt its session.
				row, rerr := s.Repo.GetPuppetByWazoUUID(ctx, s.DB, p.WazoUUID())
				if rerr != nil {
					return nil, rerr
				}
				p.adoptSession(row.CustomMXID, row.AccessToken, row.BaseURL)
				return nil, nil
			}
			return nil, err
		}
		p.adoptSession(creds.UserID, creds.AccessToken, creds.BaseURL)

		if name := s.displayName(p); name != "" {
			mxid, token := p.Session()
			if err := s.Matrix.SetDisplayName(ctx, token, mxid, name); err != nil {
				// Profile sync is best effort.
				s.Log.Warn().Err(err).Str("wazo_uuid", p.WazoUUID()).Msg("failed to set ghost display name")
			}
		}
		return nil, nil
	})
	return err
}

// SyncNames refreshes the puppet's display-name fields from a webhook
// alias. An empty alias leaves the puppet untouched.
func (s *PuppetService) SyncNames(ctx context.Context, p *Puppet, alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil
	}
	first, last := alias, ""
	if i := strings.IndexByte(alias, ' '); i > 0 {
		first, last = alias[:i], strings.TrimSpace(alias[i+1:])
	}
	curFirst, curLast, username := p.Names()
	if first == curFirst && last == curLast {
		return nil
	}
	if err := s.Repo.UpdatePuppetNames(ctx, s.DB, p.WazoUUID(), first, last, username); err != nil {
		return err
	}
	p.setNames(first, last)
	return nil
}

// displayName picks the best available profile name for a puppet.
func (s *PuppetService) displayName(p *Puppet) string {
	first, last, username := p.Names()
	full := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if full != "" {
		return full
	}
	return username
}
