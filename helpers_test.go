package phonegate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Provider.Timeout = 2 * time.Second
	return cfg
}

type fakeUserProvider struct {
	mu    sync.Mutex
	users map[string]*UserRecord

	findErr   error
	updateErr error
}

func newFakeUserProvider(users ...UserRecord) *fakeUserProvider {
	up := &fakeUserProvider{users: make(map[string]*UserRecord)}
	for i := range users {
		u := users[i]
		up.users[u.ID] = &u
	}
	return up
}

func (p *fakeUserProvider) FindByPhone(ctx context.Context, e164 string) (*UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findErr != nil {
		return nil, p.findErr
	}
	for _, u := range p.users {
		if u.PhoneNumber == e164 {
			out := *u
			return &out, nil
		}
	}
	return nil, nil
}

func (p *fakeUserProvider) FindByID(ctx context.Context, id string) (*UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findErr != nil {
		return nil, p.findErr
	}
	u, ok := p.users[id]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (p *fakeUserProvider) UpdatePhoneVerification(ctx context.Context, id, e164 string, verified, mfaEnabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	u, ok := p.users[id]
	if !ok {
		return fmt.Errorf("unknown user %q", id)
	}
	u.PhoneNumber = e164
	u.PhoneVerified = verified
	u.MFAEnabled = mfaEnabled
	return nil
}

func (p *fakeUserProvider) IsPhoneOwnedByOther(ctx context.Context, e164, excludingID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.findErr != nil {
		return false, p.findErr
	}
	for _, u := range p.users {
		if u.ID != excludingID && u.PhoneNumber == e164 && u.PhoneVerified {
			return true, nil
		}
	}
	return false, nil
}

func (p *fakeUserProvider) get(t *testing.T, id string) UserRecord {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[id]
	if !ok {
		t.Fatalf("user %q not found", id)
	}
	return *u
}

// fakeCodeProvider hands out sequential handles and accepts a fixed
// code per handle.
type fakeCodeProvider struct {
	mu      sync.Mutex
	next    int
	codes   map[string]string
	sentTo  []string
	handles []string

	sendErr  error
	checkErr error
}

const fakeCode = "123456"

func newFakeCodeProvider() *fakeCodeProvider {
	return &fakeCodeProvider{codes: make(map[string]string)}
}

func (p *fakeCodeProvider) SendCode(ctx context.Context, e164, antiAbuseToken string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.next++
	handle := fmt.Sprintf("vh-%d", p.next)
	p.codes[handle] = fakeCode
	p.sentTo = append(p.sentTo, e164)
	p.handles = append(p.handles, handle)
	return handle, nil
}

func (p *fakeCodeProvider) CheckCode(ctx context.Context, handle, code string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkErr != nil {
		return false, p.checkErr
	}
	want, ok := p.codes[handle]
	return ok && want == code, nil
}

func (p *fakeCodeProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sentTo)
}

func (p *fakeCodeProvider) lastHandle() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.handles) == 0 {
		return ""
	}
	return p.handles[len(p.handles)-1]
}

func (p *fakeCodeProvider) setCode(handle, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[handle] = code
}

type fakeTokenIssuer struct {
	err error
}

func (i *fakeTokenIssuer) MintToken(ctx context.Context, userID string) (string, error) {
	if i.err != nil {
		return "", i.err
	}
	return "token-" + userID, nil
}

// testClock drives the memory store and limiter in flow tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// shiftSessionExpiry moves a stored session's expiry by delta, so TTL
// boundary behavior can be tested without sleeping.
func shiftSessionExpiry(t *testing.T, store *MemorySessionStore, id string, delta time.Duration) {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	session, ok := store.sessions[id]
	if !ok {
		t.Fatalf("session %q not found", id)
	}
	session.ExpiresAt += int64(delta / time.Second)
}

func newTestEngine(t *testing.T, cfg Config, up UserProvider, cp CodeProvider, ti TokenIssuer) (*Engine, *MemorySessionStore, *MemoryRateLimiter) {
	t.Helper()

	store := NewMemorySessionStore()
	limiter := NewMemoryRateLimiter(cfg.RateLimit.MaxAttemptsPerWindow, cfg.RateLimit.Window)

	engine := &Engine{
		config:   cfg,
		sessions: store,
		limiter:  limiter,
		users:    up,
		codes:    cp,
		tokens:   ti,
		metrics:  NewMetrics(cfg.Metrics),
	}
	return engine, store, limiter
}
