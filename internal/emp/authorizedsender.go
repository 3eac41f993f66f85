package emp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emberline/avscore/internal/events"
	"github.com/emberline/avscore/internal/resilience"
	"github.com/emberline/avscore/internal/sender"
)

// ErrUnauthorizedPlayer is returned by SendEvent when the event's
// payload.playerId is not currently authorized. Named for parity with the
// original's Status::BAD_REQUEST outcome on the same path.
var ErrUnauthorizedPlayer = errors.New("emp: BAD_REQUEST: unauthorized player")

// AuthorizedSender wraps a sender.MessageSender with the EMP's outbound
// authorization gate: an event whose payload.playerId is not currently
// authorized is dropped rather than sent, and each adapter's delivery path
// is protected by its own circuit breaker so a misbehaving adapter cannot
// wedge the shared sender.
//
// Grounded on internal/resilience/circuitbreaker.go for the per-adapter
// breaker and on spec.md §4.3's "authorized sender" shim, which parses the
// event JSON for its payload.playerId rather than threading playerId through
// a separate call argument.
type AuthorizedSender struct {
	inner sender.MessageSender

	mu       sync.RWMutex
	allowed  map[string]struct{}
	breakers map[string]*resilience.CircuitBreaker
}

// NewAuthorizedSender wraps inner.
func NewAuthorizedSender(inner sender.MessageSender) *AuthorizedSender {
	return &AuthorizedSender{
		inner:    inner,
		allowed:  make(map[string]struct{}),
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

var _ sender.MessageSender = (*AuthorizedSender)(nil)

// SetAllowed replaces the set of currently authorized cloud player ids. This
// runs on the sender-side read path, independent of the EMP's own executor.
func (s *AuthorizedSender) SetAllowed(playerIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = make(map[string]struct{}, len(playerIDs))
	for _, id := range playerIDs {
		s.allowed[id] = struct{}{}
	}
}

// SendEvent delivers e if its payload.playerId (when present) is authorized.
// Events without a playerId field (e.g. AuthorizationComplete,
// ReportDiscoveredPlayers) always pass through.
func (s *AuthorizedSender) SendEvent(ctx context.Context, e sender.Event) error {
	playerID, hasPlayerID := events.LookupStringValue(e.Payload, "playerId")
	if hasPlayerID {
		s.mu.RLock()
		_, ok := s.allowed[playerID]
		s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: event %s.%s for player %q", ErrUnauthorizedPlayer, e.Namespace, e.Name, playerID)
		}
	}

	breaker := s.breakerFor(playerID)
	return breaker.Execute(func() error {
		return s.inner.SendEvent(ctx, e)
	})
}

func (s *AuthorizedSender) breakerFor(playerID string) *resilience.CircuitBreaker {
	if playerID == "" {
		playerID = "_default"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[playerID]
	if !ok {
		b = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "emp-adapter-" + playerID})
		s.breakers[playerID] = b
	}
	return b
}
