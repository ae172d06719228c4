package reservation

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-pooling/internal/models"
)

// Ledger stores reservation tokens. Transition is a compare-and-set: it moves
// the token to `to` only when its current state is one of `from`, and always
// reports the state it found.
type Ledger interface {
	Create(ctx context.Context, tok models.ReservationToken) error
	Get(ctx context.Context, id string) (models.ReservationToken, error)
	Transition(ctx context.Context, id string, from []models.ReservationState, to models.ReservationState) (prev models.ReservationState, ok bool, err error)
	// Expired lists RESERVED tokens whose hold ended before `before`, oldest first.
	Expired(ctx context.Context, before time.Time, limit int) ([]models.ReservationToken, error)
}

type MemoryLedger struct {
	mu     sync.Mutex
	tokens map[string]models.ReservationToken
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{tokens: make(map[string]models.ReservationToken)}
}

func (l *MemoryLedger) Create(_ context.Context, tok models.ReservationToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[tok.ID] = tok
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, id string) (models.ReservationToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.tokens[id]
	if !ok {
		return models.ReservationToken{}, &models.ConflictError{Kind: models.InvalidToken, Token: id}
	}
	return tok, nil
}

func (l *MemoryLedger) Transition(_ context.Context, id string, from []models.ReservationState, to models.ReservationState) (models.ReservationState, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.tokens[id]
	if !ok {
		return "", false, &models.ConflictError{Kind: models.InvalidToken, Token: id}
	}
	prev := tok.State
	if !slices.Contains(from, prev) {
		return prev, false, nil
	}
	tok.State = to
	l.tokens[id] = tok
	return prev, true, nil
}

func (l *MemoryLedger) Expired(_ context.Context, before time.Time, limit int) ([]models.ReservationToken, error) {
	l.mu.Lock()
	var out []models.ReservationToken
	for _, tok := range l.tokens {
		if tok.State == models.ReservationReserved && tok.ExpiresAt.Before(before) {
			out = append(out, tok)
		}
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
