package reinforcement

import (
	"context"
	"sync"
)

// PauseSwitch gates a runner between steps. Toggle may be called from any goroutine.
type PauseSwitch struct {
	mu     sync.Mutex
	paused bool
	// resume is closed when the switch is unpaused; nil while running.
	resume chan struct{}
}

func NewPauseSwitch() *PauseSwitch {
	return &PauseSwitch{}
}

// Toggle flips the switch and returns whether it is now paused.
func (ps *PauseSwitch) Toggle() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.paused {
		close(ps.resume)
		ps.resume = nil
	} else {
		ps.resume = make(chan struct{})
	}
	ps.paused = !ps.paused
	return ps.paused
}

func (ps *PauseSwitch) Paused() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.paused
}

// Wait blocks while the switch is paused, returning early with the context's error.
func (ps *PauseSwitch) Wait(ctx context.Context) error {
	ps.mu.Lock()
	resume := ps.resume
	ps.mu.Unlock()

	if resume == nil {
		return nil
	}
	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
