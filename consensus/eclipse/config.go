// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package eclipse

import (
	"errors"
	"fmt"
)

const (
	DefaultMinUniqueSources     = 5
	DefaultWarningThreshold     = 2
	DefaultMaxTrackedValidators = 4_096

	// MaxWarnings is how many warnings maintenance retains.
	MaxWarnings = 100

	// A risk is flagged when at least riskWarnings of the last
	// riskWindow warnings are present.
	riskWindow   = 10
	riskWarnings = 5

	reportWarnings = 20
)

var ErrInvalidConfig = errors.New("invalid eclipse config")

type Config struct {
	// MinUniqueSources is the number of distinct sources a certificate's
	// backing signatures must come from.
	MinUniqueSources int
	// WarningThreshold is the source count under which a signature raises a
	// low diversity warning.
	WarningThreshold int
	// MaxTrackedValidators bounds the per-validator source sets.
	MaxTrackedValidators int
}

func DefaultConfig() Config {
	return Config{
		MinUniqueSources:     DefaultMinUniqueSources,
		WarningThreshold:     DefaultWarningThreshold,
		MaxTrackedValidators: DefaultMaxTrackedValidators,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinUniqueSources <= 0:
		return fmt.Errorf("%w: min unique sources %d", ErrInvalidConfig, c.MinUniqueSources)
	case c.WarningThreshold <= 0:
		return fmt.Errorf("%w: warning threshold %d", ErrInvalidConfig, c.WarningThreshold)
	case c.MaxTrackedValidators <= 0:
		return fmt.Errorf("%w: max tracked validators %d", ErrInvalidConfig, c.MaxTrackedValidators)
	default:
		return nil
	}
}
