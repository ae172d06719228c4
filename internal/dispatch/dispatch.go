package dispatch

import (
	"context"
	"errors"

	"github.com/example/ride-pooling/internal/models"
)

// Publisher delivers an event to drivers or downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e models.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
