package model

import (
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// GenerationStatus is the phase of a guide generation as seen by a client
type GenerationStatus string

const (
	GenerationIdle    GenerationStatus = "idle"
	GenerationLoading GenerationStatus = "loading"
	GenerationSuccess GenerationStatus = "success"
	GenerationError   GenerationStatus = "error"
)

// GenerationState holds the displayed guide, error and loading flag of one
// interactive session. Transitions are idle -> loading -> success|error, and
// a new Begin is allowed from any state. Result and Err are never set at the
// same time.
//
// Every Begin returns a sequence number. Completions carrying an older
// sequence are dropped, so a slow response can not overwrite a newer one.
type GenerationState struct {
	mu      sync.Mutex
	seq     uint64
	status  GenerationStatus
	request GuideRequest
	result  *GuideResult
	err     error
}

// NewGenerationState returns a state in idle
func NewGenerationState() *GenerationState {
	return &GenerationState{status: GenerationIdle}
}

// Begin moves the state to loading for req and returns its sequence number
func (s *GenerationState) Begin(req GuideRequest) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.status = GenerationLoading
	s.request = req
	s.result = nil
	s.err = nil
	return s.seq
}

// Succeed stores result for the request identified by seq. It returns false
// when seq is not the latest request or the state is not loading.
func (s *GenerationState) Succeed(seq uint64, result *GuideResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq || s.status != GenerationLoading {
		return false
	}
	s.status = GenerationSuccess
	s.result = result
	return true
}

// Fail stores err for the request identified by seq, with the same rules as Succeed
func (s *GenerationState) Fail(seq uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq || s.status != GenerationLoading {
		return false
	}
	if err == nil {
		err = goerr.New("generation failed without error detail")
	}
	s.status = GenerationError
	s.err = err
	return true
}

// Reset returns to idle and invalidates any in-flight request
func (s *GenerationState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.status = GenerationIdle
	s.request = GuideRequest{}
	s.result = nil
	s.err = nil
}

// GenerationSnapshot is an immutable copy of GenerationState
type GenerationSnapshot struct {
	Status  GenerationStatus
	Request GuideRequest
	Result  *GuideResult
	Err     error
}

// Snapshot returns the current state
func (s *GenerationState) Snapshot() GenerationSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return GenerationSnapshot{
		Status:  s.status,
		Request: s.request,
		Result:  s.result,
		Err:     s.err,
	}
}
