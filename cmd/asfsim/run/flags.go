// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

const (
	ValidatorsKey = "validators"
	BlocksKey     = "blocks"
	ByzantineKey  = "byzantine"
	StakeKey      = "stake"
	VerboseKey    = "verbose"
)

var ErrInvalidFlags = errors.New("invalid flags")

func AddFlags(flags *pflag.FlagSet) {
	flags.Int(ValidatorsKey, 7, "Number of genesis validators")
	flags.Uint64(BlocksKey, 20, "Number of blocks to drive to finality")
	flags.Int(ByzantineKey, 1, "Number of validators that equivocate")
	flags.Uint64(StakeKey, 1_000, "Stake of every validator")
	flags.Bool(VerboseKey, false, "Log every manager's output")
}

type Config struct {
	Validators int
	Blocks     uint64
	Byzantine  int
	Stake      uint64
	Verbose    bool
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	validators, err := flags.GetInt(ValidatorsKey)
	if err != nil {
		return nil, err
	}
	blocks, err := flags.GetUint64(BlocksKey)
	if err != nil {
		return nil, err
	}
	byzantine, err := flags.GetInt(ByzantineKey)
	if err != nil {
		return nil, err
	}
	stake, err := flags.GetUint64(StakeKey)
	if err != nil {
		return nil, err
	}
	verbose, err := flags.GetBool(VerboseKey)
	if err != nil {
		return nil, err
	}

	switch {
	case validators <= 0:
		return nil, fmt.Errorf("%w: --%s must be positive", ErrInvalidFlags, ValidatorsKey)
	case byzantine < 0 || byzantine >= validators:
		return nil, fmt.Errorf("%w: --%s must be in [0, %d)", ErrInvalidFlags, ByzantineKey, validators)
	case stake == 0:
		return nil, fmt.Errorf("%w: --%s must be positive", ErrInvalidFlags, StakeKey)
	}

	return &Config{
		Validators: validators,
		Blocks:     blocks,
		Byzantine:  byzantine,
		Stake:      stake,
		Verbose:    verbose,
	}, nil
}
