package remotemock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/raterudder/autarcostatus/pkg/remote"
	"github.com/raterudder/autarcostatus/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

var _ remote.Client = (*MockClient)(nil)

func (m *MockClient) Authenticate(ctx context.Context, creds types.Credentials) (remote.Session, error) {
	args := m.Called(ctx, creds)
	// a nil session is returned alongside errors
	sess, _ := args.Get(0).(remote.Session)
	return sess, args.Error(1)
}

func (m *MockClient) Fetch(ctx context.Context, sess remote.Session, metric types.Metric) (uint32, error) {
	args := m.Called(ctx, sess, metric)
	switch v := args.Get(0).(type) {
	case uint32:
		return v, args.Error(1)
	case int:
		return uint32(v), args.Error(1)
	default:
		panic(fmt.Sprintf("unsupported fetch return type %T", v))
	}
}

// Session is a remote.Session that records whether it was closed.
type Session struct {
	ID     string
	closes atomic.Int32
}

var _ remote.Session = (*Session)(nil)

// NewSession returns a Session with the given ID.
func NewSession(id string) *Session {
	return &Session{ID: id}
}

func (s *Session) Close() error {
	s.closes.Add(1)
	return nil
}

// Closed reports whether Close was called at least once.
func (s *Session) Closed() bool {
	return s.closes.Load() > 0
}
