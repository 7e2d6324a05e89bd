package rollwin

import "errors"

// Close stops the scheduler, cancelling pending and running fetches, and
// waits for dispatched loads to return. Cached items stay readable.
//
// A second Close returns ErrClosed.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	if err := e.sched.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.cache.Close(); err != nil {
		errs = append(errs, err)
	}

	e.logger.Debug("engine closed", "variant", e.Variant())
	return errors.Join(errs...)
}
