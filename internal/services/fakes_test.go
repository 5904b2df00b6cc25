package services

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
	"github.com/tbourn/go-wazo-bridge/internal/matrix"
	"github.com/tbourn/go-wazo-bridge/internal/repo"
)

// ----- In-memory fake repos -----
//
// The fakes reproduce the store contract the services rely on: reads
// return repo.ErrNotFound on miss, duplicate inserts fail like a
// primary-key violation, and first-wins updates affect zero rows on
// the losing side. All fakes count their calls for assertions.

type fakePortalRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.Portal // by wazo uuid
	creates int
	getErr  error
}

func newFakePortalRepo() *fakePortalRepo {
	return &fakePortalRepo{rows: make(map[string]domain.Portal)}
}

func (r *fakePortalRepo) CreatePortal(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Portal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if _, ok := r.rows[wazoUUID]; ok {
		return nil, fmt.Errorf("UNIQUE constraint failed: portals.wazo_uuid")
	}
	r.rows[wazoUUID] = domain.Portal{WazoUUID: wazoUUID}
	row := r.rows[wazoUUID]
	return &row, nil
}

func (r *fakePortalRepo) GetPortalByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Portal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	row, ok := r.rows[wazoUUID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &row, nil
}

func (r *fakePortalRepo) GetPortalByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.Portal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.MXID != nil && *row.MXID == mxid {
			row := row
			return &row, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *fakePortalRepo) SetPortalMXID(ctx context.Context, db *gorm.DB, wazoUUID, mxid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[wazoUUID]
	if !ok || row.MXID != nil {
		return repo.ErrNotFound
	}
	row.MXID = &mxid
	r.rows[wazoUUID] = row
	return nil
}

type fakePuppetRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.Puppet
	creates int
}

func newFakePuppetRepo() *fakePuppetRepo {
	return &fakePuppetRepo{rows: make(map[string]domain.Puppet)}
}

func (r *fakePuppetRepo) CreatePuppet(ctx context.Context, db *gorm.DB, p *domain.Puppet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if _, ok := r.rows[p.WazoUUID]; ok {
		return fmt.Errorf("UNIQUE constraint failed: puppets.wazo_uuid")
	}
	r.rows[p.WazoUUID] = *p
	return nil
}

func (r *fakePuppetRepo) GetPuppetByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Puppet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[wazoUUID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &row, nil
}

func (r *fakePuppetRepo) MarkPuppetRegistered(ctx context.Context, db *gorm.DB, wazoUUID, customMXID, accessToken, baseURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[wazoUUID]
	if !ok || row.IsRegistered {
		return repo.ErrNotFound
	}
	row.IsRegistered = true
	row.CustomMXID = customMXID
	row.AccessToken = accessToken
	row.BaseURL = baseURL
	r.rows[wazoUUID] = row
	return nil
}

func (r *fakePuppetRepo) UpdatePuppetNames(ctx context.Context, db *gorm.DB, wazoUUID, firstName, lastName, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[wazoUUID]
	if !ok {
		return repo.ErrNotFound
	}
	row.FirstName = firstName
	row.LastName = lastName
	row.Username = username
	r.rows[wazoUUID] = row
	return nil
}

type fakeUserRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.User // by mxid
	creates int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{rows: make(map[string]domain.User)}
}

// seed links a Matrix account to a Wazo identity.
func (r *fakeUserRepo) seed(mxid, wazoUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[mxid] = domain.User{MXID: mxid, WazoUUID: &wazoUUID}
}

func (r *fakeUserRepo) CreateUser(ctx context.Context, db *gorm.DB, mxid string, wazoUUID *string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if _, ok := r.rows[mxid]; ok {
		return nil, fmt.Errorf("UNIQUE constraint failed: users.mxid")
	}
	r.rows[mxid] = domain.User{MXID: mxid, WazoUUID: wazoUUID}
	row := r.rows[mxid]
	return &row, nil
}

func (r *fakeUserRepo) GetUserByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[mxid]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &row, nil
}

func (r *fakeUserRepo) GetUserByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.WazoUUID != nil && *row.WazoUUID == wazoUUID {
			row := row
			return &row, nil
		}
	}
	return nil, repo.ErrNotFound
}

type fakeMessageRepo struct {
	mu   sync.Mutex
	rows map[string]domain.Message // by mxid
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{rows: make(map[string]domain.Message)}
}

func (r *fakeMessageRepo) CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[m.MXID]; ok {
		return fmt.Errorf("UNIQUE constraint failed: messages.mxid")
	}
	r.rows[m.MXID] = *m
	return nil
}

func (r *fakeMessageRepo) GetMessageByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.WazoUUID == wazoUUID {
			row := row
			return &row, nil
		}
	}
	return nil, repo.ErrNotFound
}

// ----- Fake collaborator clients -----

type createRoomCall struct {
	req matrix.CreateRoomRequest
}

type inviteCall struct {
	roomID  string
	userID  string
	content map[string]any
}

type sendCall struct {
	token   string
	roomID  string
	content matrix.MessageContent
}

type fakeMatrixClient struct {
	mu sync.Mutex

	registered  []string
	creates     []createRoomCall
	invites     []inviteCall
	joins       []string
	sends       []sendCall
	displayName map[string]string

	registerErr error
	createErr   error
	joinErr     error
	sendErr     error
	inviteErr   error

	nextEvent int
}

func newFakeMatrixClient() *fakeMatrixClient {
	return &fakeMatrixClient{displayName: make(map[string]string)}
}

func (c *fakeMatrixClient) RegisterUser(ctx context.Context, localpart string) (matrix.Credentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registerErr != nil {
		return matrix.Credentials{}, c.registerErr
	}
	c.registered = append(c.registered, localpart)
	return matrix.Credentials{
		UserID:      "@" + localpart + ":example.org",
		AccessToken: "token-" + localpart,
		BaseURL:     "https://hs.example.org",
	}, nil
}

func (c *fakeMatrixClient) SetDisplayName(ctx context.Context, accessToken, userID, displayName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName[userID] = displayName
	return nil
}

func (c *fakeMatrixClient) CreateRoom(ctx context.Context, accessToken string, req matrix.CreateRoomRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return "", c.createErr
	}
	c.creates = append(c.creates, createRoomCall{req: req})
	return fmt.Sprintf("!room%d:example.org", len(c.creates)), nil
}

func (c *fakeMatrixClient) InviteUser(ctx context.Context, accessToken, roomID, userID string, extraContent map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inviteErr != nil {
		return c.inviteErr
	}
	c.invites = append(c.invites, inviteCall{roomID: roomID, userID: userID, content: extraContent})
	return nil
}

func (c *fakeMatrixClient) JoinRoom(ctx context.Context, accessToken, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joins = append(c.joins, roomID)
	return nil
}

func (c *fakeMatrixClient) SendMessage(ctx context.Context, accessToken, roomID string, content matrix.MessageContent) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.nextEvent++
	c.sends = append(c.sends, sendCall{token: accessToken, roomID: roomID, content: content})
	return fmt.Sprintf("$evt%d:example.org", c.nextEvent), nil
}

type wazoPost struct {
	userUUID string
	roomUUID string
	content  string
}

type fakeWazoClient struct {
	mu      sync.Mutex
	posts   []wazoPost
	postErr error
}

func (c *fakeWazoClient) PostMessage(ctx context.Context, userUUID, roomUUID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.postErr != nil {
		return c.postErr
	}
	c.posts = append(c.posts, wazoPost{userUUID: userUUID, roomUUID: roomUUID, content: content})
	return nil
}
