package audit

import (
	"context"
	"fmt"
	"sync"
)

// MultiLogger fans out audit events to several destinations. In async
// mode each destination is written from its own goroutine and write
// errors are dropped; synchronous mode returns the first error but
// still attempts every destination.
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup
}

// NewMultiLogger creates a fan-out logger. Async by default.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers, async: true}
}

// SetAsync toggles asynchronous delivery.
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log delivers the event to every destination.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	if len(m.loggers) == 0 {
		return nil
	}
	// Stamp once so every destination records the same ID and time.
	stamp(event)

	if !m.async {
		var firstErr error
		for _, logger := range m.loggers {
			if err := logger.Log(ctx, event); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, logger := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			_ = l.Log(context.WithoutCancel(ctx), event)
		}(logger)
	}
	return nil
}

// Close waits for in-flight async writes and closes every destination.
func (m *MultiLogger) Close() error {
	m.wg.Wait()
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("audit: close errors: %v", errs)
	}
	return nil
}
