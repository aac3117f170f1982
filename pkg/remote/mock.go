package remote

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/raterudder/autarcostatus/pkg/types"
)

// Mock is an in-memory Client that simulates a PV installation. Power follows
// a daylight curve between 06:00 and 18:00 and energy accumulates from it.
type Mock struct {
	mu         sync.Mutex
	peakW      float64
	totalKWh   float64
	lastAt     time.Time
	generation int
	location   *time.Location
	now        func() time.Time
}

type mockSession struct {
	owner      *Mock
	generation int

	mu     sync.Mutex
	closed bool
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NewMock returns a Mock with the given peak power and starting total.
func NewMock(peakW, startKWh uint32) *Mock {
	return &Mock{
		peakW:    float64(peakW),
		totalKWh: float64(startKWh),
		location: time.Local,
		now:      time.Now,
	}
}

// Authenticate accepts any credentials, including empty ones.
func (m *Mock) Authenticate(ctx context.Context, creds types.Credentials) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &mockSession{owner: m, generation: m.generation}, nil
}

// ExpireSessions invalidates every session handed out so far.
func (m *Mock) ExpireSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
}

// Fetch returns simulated values for the current time.
func (m *Mock) Fetch(ctx context.Context, sess Session, metric types.Metric) (uint32, error) {
	s, ok := sess.(*mockSession)
	if !ok || s.owner != m {
		return 0, fmt.Errorf("%w: session does not belong to this client", ErrUnauthorized)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("%w: session closed", ErrUnauthorized)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.generation != m.generation {
		return 0, fmt.Errorf("%w: session expired", ErrUnauthorized)
	}

	now := m.now()
	power := m.powerAt(now)
	if !m.lastAt.IsZero() && now.After(m.lastAt) {
		m.totalKWh += power * now.Sub(m.lastAt).Hours() / 1000
	}
	m.lastAt = now

	switch metric {
	case types.MetricPower:
		return uint32(power), nil
	case types.MetricEnergy:
		return uint32(m.totalKWh), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", metric)
	}
}

func (m *Mock) powerAt(t time.Time) float64 {
	t = t.In(m.location)
	hour := float64(t.Hour()) + float64(t.Minute())/60
	if hour < 6 || hour > 18 {
		return 0
	}
	return m.peakW * math.Sin(math.Pi*(hour-6)/12)
}
