package session

import (
	"context"
	"fmt"
	"log/slog"
)

// Observer receives a snapshot after every completed operation.
type Observer interface {
	StateChanged(State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(State)

func (f ObserverFunc) StateChanged(s State) { f(s) }

// Attach registers o, replacing any previously attached observer, and pushes
// the current snapshot to it.
func (m *Manager) Attach(o Observer) {
	m.mu.Lock()
	m.observer = o
	m.seq++
	seq, snap := m.seq, m.state.Clone()
	m.mu.Unlock()

	m.notify(context.Background(), seq, o, snap)
}

// Detach removes the attached observer. Later snapshots are dropped.
func (m *Manager) Detach() {
	m.mu.Lock()
	m.observer = nil
	m.mu.Unlock()
}

type delivery struct {
	ctx  context.Context
	seq  uint64
	obs  Observer
	snap State
}

// notify delivers snap unless a newer snapshot has already been delivered or
// queued. One caller at a time drains the queue and runs the observer without
// holding notifyMu, so an observer may start another operation or call Attach
// from inside StateChanged. Such a nested call queues its snapshot and
// returns; the outer drain delivers it once the callback returns.
func (m *Manager) notify(ctx context.Context, seq uint64, o Observer, snap State) {
	if o == nil {
		return
	}
	m.notifyMu.Lock()
	if seq <= m.delivered || (m.queued != nil && seq <= m.queued.seq) {
		m.notifyMu.Unlock()
		return
	}
	m.queued = &delivery{ctx: ctx, seq: seq, obs: o, snap: snap}
	if m.delivering {
		m.notifyMu.Unlock()
		return
	}
	m.delivering = true
	for m.queued != nil {
		d := m.queued
		m.queued = nil
		if d.seq <= m.delivered {
			continue
		}
		m.delivered = d.seq
		m.notifyMu.Unlock()
		m.deliver(d)
		m.notifyMu.Lock()
	}
	m.delivering = false
	m.notifyMu.Unlock()
}

func (m *Manager) deliver(d *delivery) {
	defer func() {
		if r := recover(); r != nil {
			m.log.ErrorContext(d.ctx, "session observer panicked", slog.String("err", fmt.Sprint(r)))
		}
	}()
	d.obs.StateChanged(d.snap)
}
