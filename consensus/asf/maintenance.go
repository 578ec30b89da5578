// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package asf

import (
	"context"
	"errors"
	"time"

	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/asf/consensus/byzantine"
	"github.com/luxfi/asf/consensus/eclipse"
	"github.com/luxfi/asf/utils/wrappers"
)

// MaintenanceResult summarizes one maintenance pass.
type MaintenanceResult struct {
	Slashed           int
	Excluded          int
	Restored          int
	FinalizedBridge   int
	PrunedBlocks      int
	PrunedSlots       int
	ThresholdExceeded bool
	EclipseRisk       bool
	Censoring         int
}

// Start runs the slot, maintenance and liveness loops until ctx is done or
// Stop is called.
func (f *Finality) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.every(ctx, f.config.MaintenanceInterval, func() error {
			_, err := f.Maintain()
			return err
		})
	})
	g.Go(func() error {
		return f.every(ctx, f.config.SlotDuration, func() error {
			f.SyncSlot()
			return nil
		})
	})
	g.Go(func() error {
		return f.every(ctx, f.config.StallTimeout, func() error {
			f.CheckLiveness(ctx)
			return nil
		})
	})
	f.cancel = cancel
	f.group = g

	f.log.Info("started finality service",
		log.Duration("maintenanceInterval", f.config.MaintenanceInterval),
		log.Duration("stallTimeout", f.config.StallTimeout),
	)
	return nil
}

// Stop cancels the loops and waits for them to return. Stopping a service
// that is not running is a no-op.
func (f *Finality) Stop() error {
	f.mu.Lock()
	cancel, g := f.cancel, f.group
	f.cancel, f.group = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := g.Wait()
	f.log.Info("stopped finality service")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// every calls fn each interval. Failures are logged and the loop goes on;
// a failed pass never halts consensus.
func (f *Finality) every(ctx context.Context, interval time.Duration, fn func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(); err != nil {
				f.log.Warn("maintenance pass failed", log.Err(err))
			}
		}
	}
}

// Maintain runs one detection and cleanup pass at the current height.
func (f *Finality) Maintain() (MaintenanceResult, error) {
	var (
		height = f.Height()
		result MaintenanceResult
		errs   wrappers.Errs
		retry  []byzantine.EquivocationEvidence
	)

	for {
		evidence, err := f.accountability.PopEquivocation()
		if err != nil {
			break
		}
		if _, err := f.exclusions.ExcludeValidator(evidence.NodeID, byzantine.Equivocation, height); err != nil {
			f.log.Warn("failed to exclude equivocating validator",
				log.Stringer("nodeID", evidence.NodeID),
				log.Uint64("height", height),
				log.Err(err),
			)
			retry = append(retry, evidence)
			errs.Add(err)
			continue
		}
		f.accountability.MarkSlashed(evidence)
		f.detector.ClearSuspicion(evidence.NodeID)
		result.Slashed++
	}
	f.accountability.RequeueEquivocations(retry)

	excluded, err := f.exclusions.ProcessDetections(f.detector, height)
	errs.Add(err)
	for _, nodeID := range excluded {
		f.detector.ClearSuspicion(nodeID)
	}
	result.Excluded = len(excluded)

	restored, err := f.exclusions.CleanupExpired(height)
	errs.Add(err)
	result.Restored = len(restored)

	result.FinalizedBridge = len(f.bridge.ProcessExpired(height))

	f.tracker.DetectByzantineBehavior()
	result.ThresholdExceeded = f.tracker.IsByzantineThresholdExceeded()
	for _, pattern := range f.tracker.DetectCensorship() {
		f.log.Warn("possible censorship",
			log.Stringer("nodeID", pattern.NodeID),
			log.Int("missed", len(pattern.Missed)),
		)
		result.Censoring++
	}
	result.EclipseRisk = f.eclipse.CheckEclipseRisk()

	keep := f.config.KeepCheckpoints
	f.accountability.CleanupOldCheckpoints(height, keep)
	f.eclipse.CleanupOldData(height, keep)
	f.eclipse.ClearOldWarnings(eclipse.MaxWarnings)
	f.forks.Prune(int(keep))
	if height > keep {
		f.safety.Prune(height - keep)
	}
	f.tracker.CleanupOldData(int(keep))

	result.PrunedBlocks = f.engine.PruneFinalized(f.config.HotStuff.KeepFinalized)
	result.PrunedSlots = f.ants.PruneOldAnts(f.scheduler.CurrentSlot(), f.config.KeepSlots)

	f.log.Debug("maintenance pass",
		log.Uint64("height", height),
		log.Int("slashed", result.Slashed),
		log.Int("excluded", result.Excluded),
		log.Int("restored", result.Restored),
		log.Int("finalizedAttestations", result.FinalizedBridge),
		log.Int("prunedBlocks", result.PrunedBlocks),
		log.Int("prunedSlots", result.PrunedSlots),
		log.Bool("thresholdExceeded", result.ThresholdExceeded),
		log.Bool("eclipseRisk", result.EclipseRisk),
	)
	return result, errs.Err
}

// CheckLiveness sends every unfinalized block through a view change once
// finalization has stalled. It returns the number of blocks reset.
func (f *Finality) CheckLiveness(ctx context.Context) int {
	now := f.clock.Time()
	if !f.liveness.IsStalled(now) {
		return 0
	}

	reset := 0
	for _, blockHash := range f.engine.ActiveBlocks() {
		if f.engine.IsFinalized(blockHash) {
			continue
		}
		if err := f.engine.ViewChange(ctx, blockHash); err != nil {
			continue
		}
		reset++
	}
	if reset > 0 {
		f.liveness.RecordViewChange()
		f.log.Warn("finalization stalled",
			log.Duration("sinceFinalization", f.liveness.TimeSinceFinalization(now)),
			log.Int("viewChanges", reset),
		)
	}
	return reset
}
