// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCommitteeSize = errors.New("committee size must be positive")
	ErrInvalidTotalStake    = errors.New("total stake must be positive")
	ErrInvalidTimeout       = errors.New("base timeout must be positive")
	ErrInvalidRetention     = errors.New("finalized retention must be >= 0")
)

// Config holds the engine parameters. Committee parameters must match across
// all validators of an epoch.
type Config struct {
	// CommitteeSize is n in the floor(2n/3)+1 quorum.
	CommitteeSize uint64

	// TotalStake is the committee stake used for the stake quorum.
	TotalStake uint64

	// Epoch is the epoch votes must carry.
	Epoch uint64

	// BaseTimeout is the Prepare phase timeout. Later phases scale it.
	BaseTimeout time.Duration

	// KeepFinalized is how many finalized blocks survive pruning.
	KeepFinalized int

	// MaxActiveBlocks bounds the number of tracked blocks. 0 means unlimited.
	MaxActiveBlocks int
}

func (c Config) Validate() error {
	if c.CommitteeSize == 0 {
		return ErrInvalidCommitteeSize
	}
	if c.TotalStake == 0 {
		return ErrInvalidTotalStake
	}
	if c.BaseTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.KeepFinalized < 0 {
		return ErrInvalidRetention
	}
	if c.MaxActiveBlocks < 0 {
		return fmt.Errorf("max active blocks must be >= 0, got %d", c.MaxActiveBlocks)
	}
	return nil
}

// DefaultConfig returns parameters for a 21 validator committee.
func DefaultConfig() Config {
	return Config{
		CommitteeSize:   21,
		TotalStake:      21_000,
		BaseTimeout:     2 * time.Second,
		KeepFinalized:   256,
		MaxActiveBlocks: 4096,
	}
}

// ConfigBuilder enables fluent Config construction with validation.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: DefaultConfig(),
	}
}

// WithCommittee sets the committee size and its total stake.
func (b *ConfigBuilder) WithCommittee(size, totalStake uint64) *ConfigBuilder {
	b.config.CommitteeSize = size
	b.config.TotalStake = totalStake
	return b
}

func (b *ConfigBuilder) WithEpoch(epoch uint64) *ConfigBuilder {
	b.config.Epoch = epoch
	return b
}

func (b *ConfigBuilder) WithBaseTimeout(d time.Duration) *ConfigBuilder {
	b.config.BaseTimeout = d
	return b
}

func (b *ConfigBuilder) WithKeepFinalized(n int) *ConfigBuilder {
	b.config.KeepFinalized = n
	return b
}

func (b *ConfigBuilder) WithMaxActiveBlocks(n int) *ConfigBuilder {
	b.config.MaxActiveBlocks = n
	return b
}

// Build validates and returns the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.Validate(); err != nil {
		return Config{}, err
	}
	return b.config, nil
}

// MustBuild validates and returns the configuration, panicking on error.
// Use only in tests or when configuration is known to be valid.
func (b *ConfigBuilder) MustBuild() Config {
	cfg, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}
	return cfg
}
