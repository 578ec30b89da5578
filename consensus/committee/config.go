// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package committee

import (
	"errors"
	"fmt"
)

const (
	MinCommitteeSize          = 4
	MaxCommitteeSize          = 100
	DefaultCommitteeSize      = 21
	MinReputationForCommittee = 50

	defaultSealCacheSize = 1024
)

var ErrInvalidStrategy = errors.New("invalid selection strategy")

type Config struct {
	// TargetSize is clamped to [MinCommitteeSize, MaxCommitteeSize].
	TargetSize int
	Strategy   SelectionStrategy

	// MinReputation is the reputation a validator needs to be selected.
	MinReputation uint64

	// SealCacheSize bounds the number of verified seals remembered.
	SealCacheSize int
}

func DefaultConfig() Config {
	return Config{
		TargetSize:    DefaultCommitteeSize,
		Strategy:      StakeWeighted,
		MinReputation: MinReputationForCommittee,
		SealCacheSize: defaultSealCacheSize,
	}
}

func (c Config) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStrategy, c.Strategy)
	}
	if c.SealCacheSize <= 0 {
		return fmt.Errorf("seal cache size must be positive, got %d", c.SealCacheSize)
	}
	return nil
}

// clampSize bounds a requested committee size.
func clampSize(size int) int {
	return min(max(size, MinCommitteeSize), MaxCommitteeSize)
}
