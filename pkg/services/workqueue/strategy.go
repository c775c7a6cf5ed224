package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy tracks running tasks and decides whether a new one may start.
type ConcurrencyStrategy interface {
	// CanStartRemote returns true if a remote task can start given current state
	CanStartRemote() bool
	// CanStartCompute returns true if a compute task can start given current state
	CanStartCompute() bool
	// OnStartRemote is called when a remote task starts
	OnStartRemote()
	// OnStartCompute is called when a compute task starts
	OnStartCompute()
	// OnCompleteRemote is called when a remote task completes
	OnCompleteRemote()
	// OnCompleteCompute is called when a compute task completes
	OnCompleteCompute()
}

// SerializedStrategy serializes both remote and compute tasks: one of each at
// a time, but a remote task and a compute task can run in parallel. Compute
// tasks rewrite derived entity properties, so two must never overlap; remote
// tasks are serialized to keep sync passes ordered.
type SerializedStrategy struct {
	mu             sync.Mutex
	remoteRunning  bool
	computeRunning bool
}

// NewSerializedStrategy creates a strategy that serializes remote tasks and
// serializes compute tasks.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.remoteRunning
}

func (s *SerializedStrategy) CanStartCompute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.computeRunning
}

func (s *SerializedStrategy) OnStartRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteRunning = true
}

func (s *SerializedStrategy) OnStartCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = true
}

func (s *SerializedStrategy) OnCompleteRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteRunning = false
}

func (s *SerializedStrategy) OnCompleteCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = false
}

// ThrottledRemoteStrategy allows up to maxConcurrent remote tasks to run in
// parallel. Compute tasks are still serialized. Useful for embedding
// backfills where per-entity API calls are independent.
type ThrottledRemoteStrategy struct {
	mu             sync.Mutex
	maxConcurrent  int
	remoteRunning  int
	computeRunning bool
}

// NewThrottledRemoteStrategy creates a strategy that allows up to
// maxConcurrent remote tasks in parallel while serializing compute tasks.
func NewThrottledRemoteStrategy(maxConcurrent int) *ThrottledRemoteStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledRemoteStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledRemoteStrategy) CanStartRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteRunning < s.maxConcurrent
}

func (s *ThrottledRemoteStrategy) CanStartCompute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.computeRunning
}

func (s *ThrottledRemoteStrategy) OnStartRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteRunning++
}

func (s *ThrottledRemoteStrategy) OnStartCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = true
}

func (s *ThrottledRemoteStrategy) OnCompleteRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteRunning > 0 {
		s.remoteRunning--
	}
}

func (s *ThrottledRemoteStrategy) OnCompleteCompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computeRunning = false
}
