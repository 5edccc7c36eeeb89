package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/filevault/internal/logger"
	"github.com/iliyamo/filevault/internal/model"
	"github.com/iliyamo/filevault/internal/queue"
	"github.com/iliyamo/filevault/internal/repository"
	"github.com/iliyamo/filevault/internal/testutil"
	"github.com/iliyamo/filevault/internal/utils"
)

const (
	testSecret = "service-test-secret-0123456789"
	accessTTL  = 15 * time.Minute
	refreshTTL = 7 * 24 * time.Hour
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeObject struct {
	data        []byte
	contentType string
}

// memStorage is an in-memory storage.Adapter.
type memStorage struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	putErr  error
	delErr  error
}

func newMemStorage() *memStorage { return &memStorage{objects: map[string]fakeObject{}} }

func (m *memStorage) Put(_ context.Context, path string, r io.Reader, _ int64, contentType string) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[path] = fakeObject{data: buf.Bytes(), contentType: contentType}
	m.mu.Unlock()
	return path, nil
}

func (m *memStorage) Delete(_ context.Context, path string) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()
	return nil
}

func (m *memStorage) Presign(_ context.Context, path string, ttl time.Duration, method, filename string) (string, error) {
	return "https://storage.test/" + path + "?method=" + method + "&ttl=" + ttl.String() + "&name=" + filename, nil
}

func (m *memStorage) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type fixture struct {
	clock  *testClock
	users  *repository.UserRepo
	tokens *repository.TokenRepo
	files  *repository.FileRepo
	issuer *utils.TokenIssuer
	hasher *utils.PasswordHasher
	ledger *Ledger
	auth   *AuthService
	dir    *UserService
	fs     *FileService
	store  *memStorage
	events *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	f := &fixture{
		clock:  newTestClock(),
		users:  repository.NewUserRepo(db),
		tokens: repository.NewTokenRepo(db),
		files:  repository.NewFileRepo(db),
		hasher: utils.NewPasswordHasher(bcrypt.MinCost),
		store:  newMemStorage(),
		events: &recordingPublisher{},
	}
	log := logger.Nop()
	f.issuer = utils.NewTokenIssuer(testSecret, utils.WithClock(f.clock.Now))
	f.ledger = NewLedger(f.tokens, f.issuer, f.clock.Now)

	var err error
	f.auth, err = NewAuthService(f.users, f.ledger, f.issuer, f.hasher,
		AuthConfig{AccessTTL: accessTTL, RefreshTTL: refreshTTL}, log, nil, f.events)
	require.NoError(t, err)
	f.dir = NewUserService(f.users, f.ledger, f.hasher, log, f.events)
	f.fs = NewFileService(f.files, f.users, f.store,
		FileConfig{PresignDefaultTTL: time.Hour, PresignMaxTTL: 24 * time.Hour}, log, nil, f.events)
	f.fs.now = f.clock.Now
	return f
}

// mkUser creates an account directly through the directory service.
func (f *fixture) mkUser(t *testing.T, username, password string, role model.Role) *model.User {
	t.Helper()
	u, err := f.dir.Create(context.Background(), NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
		Role:     role,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) upload(t *testing.T, owner *model.User, name, body string) *model.File {
	t.Helper()
	file, err := f.fs.Upload(context.Background(), owner, Upload{
		Filename:    name,
		ContentType: "text/plain",
		Size:        int64(len(body)),
		Body:        bytes.NewBufferString(body),
	})
	require.NoError(t, err)
	return file
}
