package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"arbiter/internal/domain"
	"arbiter/internal/models"
)

// MultiSink delivers a task to every sink. A task counts as delivered only if
// all sinks accept it, so a retry may redeliver to sinks that already did.
type MultiSink struct {
	sinks []domain.EventSink
}

func NewMultiSink(sinks ...domain.EventSink) *MultiSink {
	filtered := make([]domain.EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Name() string {
	if len(m.sinks) == 0 {
		return "none"
	}
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, ",")
}

func (m *MultiSink) Deliver(ctx context.Context, task *models.OutboxTask) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of wrapped sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
