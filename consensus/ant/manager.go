// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ant

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/asf/utils/wrappers"
)

const slotTreeDegree = 8

type slotAnts struct {
	slot uint64
	ants []Block
}

func lessSlot(a, b *slotAnts) bool {
	return a.slot < b.slot
}

// Manager holds the Ants of every recent slot, ordered by slot.
type Manager struct {
	mu sync.RWMutex

	log    log.Logger
	config Config

	slots    *btree.BTreeG[*slotAnts]
	total    int
	queens   map[uint64]ids.ID
	accepted metric.Counter
	rejected metric.Counter
}

func New(log log.Logger, config Config, registerer metric.Registerer) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		log:    log,
		config: config,
		slots:  btree.NewG(slotTreeDegree, lessSlot),
		queens: make(map[uint64]ids.ID),
		accepted: metric.NewCounter(metric.CounterOpts{
			Name: "ant_blocks_accepted",
			Help: "Number of ant blocks registered",
		}),
		rejected: metric.NewCounter(metric.CounterOpts{
			Name: "ant_blocks_rejected",
			Help: "Number of ant blocks refused",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.accepted)),
		registerer.Register(metric.AsCollector(m.rejected)),
	)
	if errs.Errored() {
		return nil, fmt.Errorf("failed to register ant metrics: %w", errs.Err)
	}
	return m, nil
}

func (m *Manager) Timeout() time.Duration {
	return m.config.Timeout
}

func (m *Manager) get(slot uint64) (*slotAnts, bool) {
	return m.slots.Get(&slotAnts{slot: slot})
}

// CanProduceAnt reports whether slot has room for another Ant.
func (m *Manager) CanProduceAnt(slot uint64) bool {
	return m.AntCount(slot) < m.config.MaxAntsPerSlot
}

func (m *Manager) AntCount(slot uint64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.get(slot)
	if !ok {
		return 0
	}
	return len(entry.ants)
}

// RegisterAnt records block as an Ant for slot.
func (m *Manager) RegisterAnt(slot uint64, block Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.registerAnt(slot, block); err != nil {
		m.rejected.Inc()
		return err
	}
	m.accepted.Inc()
	m.log.Debug("registered ant",
		log.Uint64("slot", slot),
		log.Stringer("blockHash", block.BlockHash),
		log.Stringer("proposer", block.Proposer),
		log.Int("txCount", block.TxCount),
	)
	return nil
}

func (m *Manager) registerAnt(slot uint64, block Block) error {
	if block.Slot != slot {
		return fmt.Errorf("%w: block for slot %d registered at %d", ErrSlotMismatch, block.Slot, slot)
	}

	entry, ok := m.get(slot)
	if !ok {
		entry = &slotAnts{slot: slot}
		m.slots.ReplaceOrInsert(entry)
	}
	if len(entry.ants) >= m.config.MaxAntsPerSlot {
		return fmt.Errorf("%w: slot %d has %d", ErrTooManyAnts, slot, len(entry.ants))
	}
	for _, existing := range entry.ants {
		if existing.BlockHash == block.BlockHash {
			return fmt.Errorf("%w: %s", ErrDuplicateAnt, block.BlockHash)
		}
	}
	entry.ants = append(entry.ants, block)
	m.total++
	return nil
}

// AntsForSlot returns the Ants of slot in registration order.
func (m *Manager) AntsForSlot(slot uint64) []Block {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.get(slot)
	if !ok {
		return nil
	}
	return slices.Clone(entry.ants)
}

// RecordQueen marks slot as served by its Queen. A slot keeps the first
// Queen block recorded for it.
func (m *Manager) RecordQueen(slot uint64, blockHash ids.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.queens[slot]; ok && existing != blockHash {
		return fmt.Errorf("%w: slot %d already has %s", ErrDuplicateQueen, slot, existing)
	}
	m.queens[slot] = blockHash
	return nil
}

func (m *Manager) HasQueenForSlot(slot uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.queens[slot]
	return ok
}

// SelectBestAnt picks the Ant with the most transactions, earliest first on
// ties, so every node selects the same block.
func (m *Manager) SelectBestAnt(slot uint64) (Block, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.get(slot)
	if !ok || len(entry.ants) == 0 {
		return Block{}, false
	}
	best := entry.ants[0]
	for _, candidate := range entry.ants[1:] {
		if candidate.better(best) {
			best = candidate
		}
	}
	return best, true
}

// PruneOldAnts keeps only slots newer than currentSlot-keepSlots and
// returns how many slots of Ants were dropped.
func (m *Manager) PruneOldAnts(currentSlot, keepSlots uint64) int {
	if currentSlot < keepSlots {
		return 0
	}
	cutoff := currentSlot - keepSlots

	m.mu.Lock()
	defer m.mu.Unlock()

	for slot := range m.queens {
		if slot <= cutoff {
			delete(m.queens, slot)
		}
	}

	pruned := 0
	for {
		oldest, ok := m.slots.Min()
		if !ok || oldest.slot > cutoff {
			break
		}
		m.slots.DeleteMin()
		m.total -= len(oldest.ants)
		pruned++
	}
	return pruned
}

func (m *Manager) TotalAntCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.total
}

type Stats struct {
	TotalAnts      int
	SlotsWithAnts  int
	AvgAntsPerSlot float64
}

// AntRate is the share of totalSlots that needed an Ant.
func (s Stats) AntRate(totalSlots int) float64 {
	if totalSlots == 0 {
		return 0
	}
	return float64(s.SlotsWithAnts) / float64(totalSlots)
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalAnts:     m.total,
		SlotsWithAnts: m.slots.Len(),
	}
	if stats.SlotsWithAnts > 0 {
		stats.AvgAntsPerSlot = float64(stats.TotalAnts) / float64(stats.SlotsWithAnts)
	}
	return stats
}
