// Package notify delivers alert notifications to external channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/darshan-rambhia/diskmon/internal/model"
)

// Provider sends notifications through a specific channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}

// Broadcast sends n to every provider. A failing provider does not stop the
// others; their errors are joined.
func Broadcast(ctx context.Context, providers []Provider, n model.Notification) error {
	var errs []error
	for _, p := range providers {
		if err := p.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
