// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ant

import (
	"fmt"
	"time"
)

type Strategy uint8

const (
	Immediate Strategy = iota
	RandomDelay
	HighTxOnly
)

func (s Strategy) String() string {
	switch s {
	case Immediate:
		return "immediate"
	case RandomDelay:
		return "random-delay"
	case HighTxOnly:
		return "high-tx-only"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

type Decision uint8

const (
	Produce Decision = iota
	Wait
	Skip
)

func (d Decision) String() string {
	switch d {
	case Produce:
		return "produce"
	case Wait:
		return "wait"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

// Producer decides whether the local validator should produce an Ant. It
// only reads the Manager.
type Producer struct {
	Strategy        Strategy
	MinTransactions int
}

func DefaultProducer() Producer {
	return Producer{
		Strategy:        RandomDelay,
		MinTransactions: DefaultMinTransactions,
	}
}

// Decide returns Skip when the Queen already produced or the slot is full,
// Wait until the Queen's timeout has elapsed, and otherwise applies the
// strategy. RandomDelay produces once the caller's jittered slot timer fires.
func (p Producer) Decide(m *Manager, slot uint64, sinceSlotStart time.Duration, availableTxs int) Decision {
	if m.HasQueenForSlot(slot) || !m.CanProduceAnt(slot) {
		return Skip
	}
	if sinceSlotStart < m.Timeout() {
		return Wait
	}
	switch p.Strategy {
	case HighTxOnly:
		if availableTxs < p.MinTransactions {
			return Wait
		}
		return Produce
	default:
		return Produce
	}
}
