package api

import (
	"context"
	"sync"

	"github.com/cuemby/fleetd/pkg/types"
)

// CommandQueue holds pending commands per host and wakes pollers when one
// arrives
type CommandQueue struct {
	mu    sync.Mutex
	hosts map[string]*hostQueue
}

type hostQueue struct {
	pending []types.Command
	// closed and replaced on every enqueue
	signal chan struct{}
}

// NewCommandQueue creates an empty queue
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{hosts: make(map[string]*hostQueue)}
}

func (q *CommandQueue) host(name string) *hostQueue {
	h, ok := q.hosts[name]
	if !ok {
		h = &hostQueue{signal: make(chan struct{})}
		q.hosts[name] = h
	}
	return h
}

// Enqueue appends cmd to host's queue. A command identical to one already
// pending is coalesced and Enqueue returns false.
func (q *CommandQueue) Enqueue(host string, cmd types.Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.host(host)
	for _, c := range h.pending {
		if c == cmd {
			return false
		}
	}
	h.pending = append(h.pending, cmd)
	close(h.signal)
	h.signal = make(chan struct{})
	return true
}

// Next pops the oldest pending command for host, waiting until one is
// enqueued or ctx is done. ok is false when ctx ended first.
func (q *CommandQueue) Next(ctx context.Context, host string) (cmd types.Command, ok bool) {
	for {
		q.mu.Lock()
		h := q.host(host)
		if len(h.pending) > 0 {
			cmd = h.pending[0]
			h.pending = h.pending[1:]
			q.mu.Unlock()
			return cmd, true
		}
		signal := h.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-signal:
		}
	}
}

// Pending returns the commands queued for host, oldest first
func (q *CommandQueue) Pending(host string) []types.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h, ok := q.hosts[host]; ok {
		return append([]types.Command(nil), h.pending...)
	}
	return nil
}
