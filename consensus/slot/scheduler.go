// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package slot maps wall clock time onto consensus slots.
package slot

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/asf/utils/timer/mockable"
)

const DefaultDuration = 6 * time.Second

var ErrInvalidDuration = errors.New("slot duration must be positive")

// Window is the time span of one slot, [Start, Start+Duration).
type Window struct {
	Slot     uint64
	Start    time.Time
	Duration time.Duration
}

func (w Window) End() time.Time {
	return w.Start.Add(w.Duration)
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End())
}

// Elapsed is the time spent in the window at t, clamped to [0, Duration].
func (w Window) Elapsed(t time.Time) time.Duration {
	if !t.After(w.Start) {
		return 0
	}
	return min(t.Sub(w.Start), w.Duration)
}

func (w Window) Remaining(t time.Time) time.Duration {
	end := w.End()
	if !t.Before(end) {
		return 0
	}
	return end.Sub(t)
}

// Progress is the elapsed share of the window in percent.
func (w Window) Progress(t time.Time) uint8 {
	return uint8(w.Elapsed(t) * 100 / w.Duration)
}

func (w Window) Expired(t time.Time) bool {
	return !t.Before(w.End())
}

// Scheduler divides time since genesis into fixed length slots.
type Scheduler struct {
	genesis  time.Time
	duration time.Duration
	clock    *mockable.Clock
}

func NewScheduler(genesis time.Time, duration time.Duration, clock *mockable.Clock) (*Scheduler, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}
	if clock == nil {
		clock = &mockable.Clock{}
	}
	return &Scheduler{
		genesis:  genesis,
		duration: duration,
		clock:    clock,
	}, nil
}

func (s *Scheduler) Genesis() time.Time {
	return s.genesis
}

func (s *Scheduler) Duration() time.Duration {
	return s.duration
}

// SlotAt returns the slot containing t. Times before genesis are slot 0.
func (s *Scheduler) SlotAt(t time.Time) uint64 {
	if t.Before(s.genesis) {
		return 0
	}
	return uint64(t.Sub(s.genesis) / s.duration)
}

func (s *Scheduler) StartOf(slot uint64) time.Time {
	return s.genesis.Add(time.Duration(slot) * s.duration)
}

func (s *Scheduler) Window(slot uint64) Window {
	return Window{
		Slot:     slot,
		Start:    s.StartOf(slot),
		Duration: s.duration,
	}
}

func (s *Scheduler) CurrentSlot() uint64 {
	return s.SlotAt(s.clock.Time())
}

func (s *Scheduler) CurrentWindow() Window {
	return s.Window(s.CurrentSlot())
}

// SinceSlotStart is how far into its slot t falls.
func (s *Scheduler) SinceSlotStart(t time.Time) time.Duration {
	return s.Window(s.SlotAt(t)).Elapsed(t)
}
