package harq

import (
	"fmt"
	"sync"
)

// Entity owns the HARQ processes of one RNTI in one direction.
type Entity struct {
	RNTI      uint16
	Direction Direction

	mu       sync.RWMutex
	procs    []*Process
	capacity int
	closed   bool
}

// NewEntity allocates n processes, each able to hold capacity segments.
func NewEntity(rnti uint16, dir Direction, n, capacity int) *Entity {
	e := &Entity{
		RNTI:      rnti,
		Direction: dir,
		procs:     make([]*Process, n),
		capacity:  capacity,
	}
	for i := range e.procs {
		e.procs[i] = newProcess(i, rnti, dir, capacity)
	}
	return e
}

// Len returns the number of processes.
func (e *Entity) Len() int {
	return len(e.procs)
}

// Capacity returns the number of segments each process holds.
func (e *Entity) Capacity() int {
	return e.capacity
}

// Process returns process id.
func (e *Entity) Process(id int) (*Process, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	if id < 0 || id >= len(e.procs) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProcess, id)
	}
	return e.procs[id], nil
}

// Reset returns an idle process to neutral values, keeping its buffers.
func (e *Entity) Reset(id int) error {
	p, err := e.Process(id)
	if err != nil {
		return err
	}
	if !p.TryAcquire() {
		return fmt.Errorf("%w: %d", ErrProcessBusy, id)
	}
	defer p.Release()
	p.reset()
	return nil
}

// Close frees every process buffer. Attempts still in flight are not
// awaited, so callers drain their schedulers first.
func (e *Entity) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	for _, p := range e.procs {
		p.free()
	}
}
