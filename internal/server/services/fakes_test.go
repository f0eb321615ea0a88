package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
)

type fakeUserStore struct {
	mu      sync.Mutex
	users   []models.UserRecord
	listErr error
}

func (f *fakeUserStore) add(u models.UserRecord) models.UserRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	f.users = append(f.users, u)
	return u
}

func (f *fakeUserStore) ListAll(ctx context.Context) ([]models.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.UserRecord(nil), f.users...), nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.users {
		if f.users[i].ID == id {
			u := f.users[i]
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) GetByUsername(ctx context.Context, username string) (*models.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.users {
		if f.users[i].Name() == username && f.users[i].DeletedAt == nil {
			u := f.users[i]
			return &u, nil
		}
	}
	return nil, nil
}

// fakeGateway keeps accounts in memory and records every mutating call.
type fakeGateway struct {
	mu       sync.Mutex
	accounts map[string]map[string]string
	calls    []string

	listErr   error
	createErr map[string]error
	// keyed by "username/key"
	setErr    map[string]error
	deleteErr map[string]error
	conns     []models.LiveConnection
	connsErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accounts:  make(map[string]map[string]string),
		createErr: make(map[string]error),
		setErr:    make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (f *fakeGateway) seed(username string, props map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if props == nil {
		props = map[string]string{}
	}
	f.accounts[username] = props
}

func (f *fakeGateway) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGateway) has(username string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.accounts[username]
	return ok
}

func (f *fakeGateway) prop(username, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[username][key]
}

func (f *fakeGateway) ListAccounts(ctx context.Context) (map[string]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make(map[string]map[string]string, len(f.accounts))
	for name, props := range f.accounts {
		cp := make(map[string]string, len(props))
		for k, v := range props {
			cp[k] = v
		}
		out[name] = cp
	}
	return out, nil
}

func (f *fakeGateway) CreateAccount(ctx context.Context, username, tempPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create:"+username)
	if err := f.createErr[username]; err != nil {
		return err
	}
	f.accounts[username] = map[string]string{models.PropType: models.AccountTypeUserConnect}
	return nil
}

func (f *fakeGateway) SetProperty(ctx context.Context, username, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("set:%s/%s", username, key))
	if err := f.setErr[username+"/"+key]; err != nil {
		return err
	}
	props, ok := f.accounts[username]
	if !ok {
		props = map[string]string{}
		f.accounts[username] = props
	}
	props[key] = value
	return nil
}

func (f *fakeGateway) DeleteAccount(ctx context.Context, username string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "exists:"+username)
	_, ok := f.accounts[username]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return f.PurgeAccount(ctx, username)
}

func (f *fakeGateway) PurgeAccount(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete:"+username)
	if err := f.deleteErr[username]; err != nil {
		return err
	}
	delete(f.accounts, username)
	return nil
}

func (f *fakeGateway) ListLiveConnections(ctx context.Context) ([]models.LiveConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connsErr != nil {
		return nil, f.connsErr
	}
	return append([]models.LiveConnection(nil), f.conns...), nil
}

// fakeDeviceStore mirrors the device_records constraints in memory.
type fakeDeviceStore struct {
	mu      sync.Mutex
	records []models.DeviceRecord
}

func (f *fakeDeviceStore) insert(d models.DeviceRecord) models.DeviceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	f.records = append(f.records, d)
	return d
}

func (f *fakeDeviceStore) all() []models.DeviceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DeviceRecord(nil), f.records...)
}

func (f *fakeDeviceStore) activeHolders(tunnelIP string) int {
	n := 0
	for _, d := range f.all() {
		if d.TunnelIP == tunnelIP && d.IsActive {
			n++
		}
	}
	return n
}

func (f *fakeDeviceStore) GetActiveByTunnelIP(ctx context.Context, tunnelIP string, exceptUserID uuid.UUID) (*models.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		d := f.records[i]
		if d.TunnelIP == tunnelIP && d.UserID != exceptUserID && d.IsActive {
			return &d, nil
		}
	}
	return nil, nil
}

func (f *fakeDeviceStore) GetByUserAndTunnelIP(ctx context.Context, userID uuid.UUID, tunnelIP string) (*models.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		d := f.records[i]
		if d.UserID == userID && d.TunnelIP == tunnelIP {
			return &d, nil
		}
	}
	return nil, nil
}

func (f *fakeDeviceStore) Create(ctx context.Context, device *models.DeviceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.records {
		if d.UserID == device.UserID && d.TunnelIP == device.TunnelIP {
			return fmt.Errorf("duplicate (user_id, tunnel_ip)")
		}
		if d.TunnelIP == device.TunnelIP && d.IsActive {
			return fmt.Errorf("duplicate active tunnel_ip")
		}
	}
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now()
	device.IsActive = true
	device.LastSeenAt = now
	device.CreatedAt = now
	f.records = append(f.records, *device)
	return nil
}

func (f *fakeDeviceStore) Touch(ctx context.Context, device *models.DeviceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ID == device.ID {
			f.records[i].LastSeenAt = time.Now()
			f.records[i].IsActive = true
			f.records[i].RealIP = device.RealIP
			f.records[i].ConnectedSince = device.ConnectedSince
			*device = f.records[i]
			return nil
		}
	}
	return fmt.Errorf("device %s not found", device.ID)
}

func (f *fakeDeviceStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ID == id {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func verifiedUser(username, email string) models.UserRecord {
	name := username
	return models.UserRecord{
		ID:            uuid.New(),
		Username:      &name,
		Email:         email,
		DisplayName:   username,
		Role:          models.RoleUser,
		EmailVerified: true,
	}
}
