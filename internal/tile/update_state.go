package tile

import (
	"time"
)

type UpdateStatus int

const (
	UpdateIdle UpdateStatus = iota
	UpdatePending
	UpdateError
	UpdateDefinitiveError
	UpdateFinished
)

func (s UpdateStatus) String() string {
	switch s {
	case UpdateIdle:
		return "idle"
	case UpdatePending:
		return "pending"
	case UpdateError:
		return "error"
	case UpdateDefinitiveError:
		return "definitive-error"
	case UpdateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// LayerUpdateState tracks the loading of one layer's data for one tile.
// Consecutive failures are counted; at MaxRetries the state becomes a
// definitive error that only Reset clears.
type LayerUpdateState struct {
	Status     UpdateStatus
	Failures   int
	MaxRetries int
	LastError  error
	LastChange time.Time
}

func NewLayerUpdateState(maxRetries int) *LayerUpdateState {
	return &LayerUpdateState{MaxRetries: maxRetries}
}

// CanRetry reports whether a new request may be issued.
func (s *LayerUpdateState) CanRetry() bool {
	return s.Status != UpdatePending && s.Status != UpdateDefinitiveError
}

func (s *LayerUpdateState) InError() bool {
	return s.Status == UpdateDefinitiveError
}

func (s *LayerUpdateState) Definitive() bool {
	return s.InError()
}

func (s *LayerUpdateState) Pending() {
	s.Status = UpdatePending
	s.LastChange = time.Now()
}

func (s *LayerUpdateState) Success() {
	s.Status = UpdateFinished
	s.Failures = 0
	s.LastError = nil
	s.LastChange = time.Now()
}

// Failure records a failed attempt.
func (s *LayerUpdateState) Failure(err error) {
	s.Failures++
	s.LastError = err
	s.LastChange = time.Now()
	if s.MaxRetries > 0 && s.Failures >= s.MaxRetries {
		s.Status = UpdateDefinitiveError
		return
	}
	s.Status = UpdateError
}

// Cancelled returns a pending state to idle without counting a failure.
func (s *LayerUpdateState) Cancelled() {
	if s.Status == UpdatePending {
		s.Status = UpdateIdle
	}
}

func (s *LayerUpdateState) Reset() {
	s.Status = UpdateIdle
	s.Failures = 0
	s.LastError = nil
	s.LastChange = time.Now()
}
