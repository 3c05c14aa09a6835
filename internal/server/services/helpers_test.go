package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/cryptox"
	"github.com/dmitrijs2005/hostauth/internal/logging"
	"github.com/dmitrijs2005/hostauth/internal/server/auth"
	"github.com/dmitrijs2005/hostauth/internal/server/events"
	"github.com/dmitrijs2005/hostauth/internal/server/metrics"
	"github.com/dmitrijs2005/hostauth/internal/server/models"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/hostauth/internal/server/repositories/users"
	"github.com/dmitrijs2005/hostauth/internal/timex"
	"github.com/stretchr/testify/require"
)

// cheapParams keeps argon2 fast in tests.
var cheapParams = cryptox.Argon2Params{Time: 1, Memory: 8, Threads: 1, SaltLen: 8, KeyLen: 16}

var start = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

const (
	accessTTL  = 30 * time.Minute
	refreshTTL = 7 * 24 * time.Hour
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofType(typ string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc     *SessionService
	dir     *UserDirectory
	users   *users.MemoryRepository
	tokens  *refreshtokens.MemoryRepository
	clock   *timex.ManualClock
	events  *recordingPublisher
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts SessionOptions) *fixture {
	t.Helper()

	codec, err := auth.NewCodec([]byte("test-secret"), "hostauth", accessTTL)
	require.NoError(t, err)

	f := &fixture{
		users:   users.NewMemoryRepository(),
		tokens:  refreshtokens.NewMemoryRepository(refreshTTL),
		clock:   timex.NewManualClock(start),
		events:  &recordingPublisher{},
		metrics: metrics.New(nil),
	}
	f.dir = NewUserDirectory(f.users, cheapParams)
	f.svc = NewSessionService(f.dir, f.tokens, codec, f.clock, f.events, logging.Nop{}, f.metrics, opts)
	return f
}

func (f *fixture) register(t *testing.T, username, password string, roles ...string) *models.User {
	t.Helper()
	u, _, err := f.dir.Register(context.Background(), username, username+"@example.com", password, roles)
	require.NoError(t, err)
	return u
}
