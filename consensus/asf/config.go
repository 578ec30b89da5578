// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asf

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/asf/consensus/ant"
	"github.com/luxfi/asf/consensus/attestation"
	"github.com/luxfi/asf/consensus/byzantine"
	"github.com/luxfi/asf/consensus/committee"
	"github.com/luxfi/asf/consensus/eclipse"
	"github.com/luxfi/asf/consensus/hotstuff"
	"github.com/luxfi/asf/consensus/longrange"
	"github.com/luxfi/asf/consensus/slot"
)

const (
	DefaultMaintenanceInterval = time.Second
	DefaultStallTimeout        = 30 * time.Second
	DefaultKeepSlots           = 64
	DefaultKeepCheckpoints     = 1_000
	DefaultSignatureCacheSize  = 2_048
)

var ErrInvalidConfig = errors.New("invalid asf config")

// Config composes the configuration of every manager the service owns.
type Config struct {
	HotStuff  hotstuff.Config
	Committee committee.Config
	Ant       ant.Config
	Producer  ant.Producer

	// SuspicionThreshold is the incident count at which the detector treats
	// a validator as byzantine.
	SuspicionThreshold    uint32
	Tracker               byzantine.TrackerConfig
	Exclusion             byzantine.ExclusionConfig
	MaxTrackedCheckpoints int

	Eclipse   eclipse.Config
	LongRange longrange.Config
	Bridge    attestation.BridgeConfig
	// SignatureCacheSize bounds the verified attestation signatures
	// remembered by the bridge verifier.
	SignatureCacheSize int

	SlotDuration time.Duration

	// MaintenanceInterval is the period of the detection and cleanup pass.
	MaintenanceInterval time.Duration
	// StallTimeout is how long finalization may stall before unfinalized
	// blocks are sent through a view change.
	StallTimeout time.Duration

	KeepSlots       uint64
	KeepCheckpoints uint64
}

func DefaultConfig() Config {
	return Config{
		HotStuff:              hotstuff.DefaultConfig(),
		Committee:             committee.DefaultConfig(),
		Ant:                   ant.DefaultConfig(),
		Producer:              ant.DefaultProducer(),
		SuspicionThreshold:    byzantine.DefaultSuspicionThreshold,
		Tracker:               byzantine.DefaultTrackerConfig(),
		Exclusion:             byzantine.DefaultExclusionConfig(),
		MaxTrackedCheckpoints: byzantine.DefaultMaxTrackedCheckpoints,
		Eclipse:               eclipse.DefaultConfig(),
		LongRange:             longrange.DefaultConfig(),
		Bridge:                attestation.DefaultBridgeConfig(),
		SignatureCacheSize:    DefaultSignatureCacheSize,
		SlotDuration:          slot.DefaultDuration,
		MaintenanceInterval:   DefaultMaintenanceInterval,
		StallTimeout:          DefaultStallTimeout,
		KeepSlots:             DefaultKeepSlots,
		KeepCheckpoints:       DefaultKeepCheckpoints,
	}
}

func (c Config) Validate() error {
	if err := c.HotStuff.Validate(); err != nil {
		return fmt.Errorf("hotstuff config: %w", err)
	}
	if err := c.Committee.Validate(); err != nil {
		return fmt.Errorf("committee config: %w", err)
	}
	if err := c.Ant.Validate(); err != nil {
		return fmt.Errorf("ant config: %w", err)
	}
	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}
	if err := c.Exclusion.Validate(); err != nil {
		return fmt.Errorf("exclusion config: %w", err)
	}
	if err := c.Eclipse.Validate(); err != nil {
		return fmt.Errorf("eclipse config: %w", err)
	}
	if err := c.LongRange.Validate(); err != nil {
		return fmt.Errorf("longrange config: %w", err)
	}
	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}

	switch {
	case c.SlotDuration <= 0:
		return fmt.Errorf("%w: slot duration %s", ErrInvalidConfig, c.SlotDuration)
	case c.MaintenanceInterval <= 0:
		return fmt.Errorf("%w: maintenance interval %s", ErrInvalidConfig, c.MaintenanceInterval)
	case c.StallTimeout <= 0:
		return fmt.Errorf("%w: stall timeout %s", ErrInvalidConfig, c.StallTimeout)
	case c.SignatureCacheSize <= 0:
		return fmt.Errorf("%w: signature cache size %d", ErrInvalidConfig, c.SignatureCacheSize)
	default:
		return nil
	}
}
