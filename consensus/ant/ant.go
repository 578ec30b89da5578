// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ant tracks fallback ("Ant") blocks produced when the PPFA proposer
// of a slot misses its turn.
package ant

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/ids"
)

var (
	ErrTooManyAnts    = errors.New("too many ants for slot")
	ErrDuplicateAnt   = errors.New("ant already registered")
	ErrSlotMismatch   = errors.New("ant slot mismatch")
	ErrDuplicateQueen = errors.New("queen block already recorded")
	ErrInvalidConfig  = errors.New("invalid ant config")
)

// Block is an Ant block offered for a slot.
type Block struct {
	BlockHash   ids.ID
	BlockNumber uint64
	Proposer    ids.NodeID
	// Timestamp is in unix milliseconds.
	Timestamp uint64
	Slot      uint64
	TxCount   int
}

// better reports whether b should be preferred over o: more transactions,
// then earlier timestamp.
func (b Block) better(o Block) bool {
	if b.TxCount != o.TxCount {
		return b.TxCount > o.TxCount
	}
	return b.Timestamp < o.Timestamp
}

const (
	DefaultMaxAntsPerSlot  = 3
	DefaultTimeout         = 3 * time.Second
	DefaultMinTransactions = 10
)

type Config struct {
	MaxAntsPerSlot int
	// Timeout is how long the Queen has before Ants may be produced.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAntsPerSlot: DefaultMaxAntsPerSlot,
		Timeout:        DefaultTimeout,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxAntsPerSlot <= 0:
		return fmt.Errorf("%w: max ants per slot %d", ErrInvalidConfig, c.MaxAntsPerSlot)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout %s", ErrInvalidConfig, c.Timeout)
	default:
		return nil
	}
}
