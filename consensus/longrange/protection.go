// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package longrange

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/asf/utils/timer/mockable"
)

const DefaultMaxSocialCheckpoints = 100

var (
	ErrNonMonotonicAnchor  = errors.New("anchor does not extend the previous anchor")
	ErrGenesisMismatch     = errors.New("genesis mismatch")
	ErrAnchorMismatch      = errors.New("anchor mismatch")
	ErrAuthoritySetExpired = errors.New("authority set expired")
	ErrInvalidConfig       = errors.New("invalid long range config")
)

type Config struct {
	// MaxSocialCheckpoints caps the anchor list. The oldest anchors are
	// evicted first.
	MaxSocialCheckpoints int
}

func DefaultConfig() Config {
	return Config{
		MaxSocialCheckpoints: DefaultMaxSocialCheckpoints,
	}
}

func (c Config) Validate() error {
	if c.MaxSocialCheckpoints <= 0 {
		return fmt.Errorf("%w: max social checkpoints %d", ErrInvalidConfig, c.MaxSocialCheckpoints)
	}
	return nil
}

// Protection defends against long range attacks. Candidate chains must
// agree with every anchor, and signatures from rotated out authority sets
// are refused.
type Protection struct {
	mu sync.RWMutex

	log    log.Logger
	config Config
	clock  *mockable.Clock
	store  *store

	genesis           Anchor
	anchors           []Anchor
	expired           set.Set[uint64]
	minAuthoritySetID uint64
}

// New opens the protection over db. A db written with a different genesis
// is refused.
func New(logger log.Logger, config Config, genesis Anchor, db database.Database, clock *mockable.Clock) (*Protection, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = &mockable.Clock{}
	}

	s := newStore(db)
	stored, ok, err := s.getGenesis()
	if err != nil {
		return nil, err
	}
	switch {
	case !ok:
		if err := s.putGenesis(genesis); err != nil {
			return nil, fmt.Errorf("failed to persist genesis: %w", err)
		}
	case stored.BlockNumber != genesis.BlockNumber || stored.BlockHash != genesis.BlockHash:
		return nil, fmt.Errorf("%w: stored %s, configured %s", ErrGenesisMismatch, stored, genesis)
	}

	anchors, err := s.loadAnchors()
	if err != nil {
		return nil, err
	}
	expiredIDs, err := s.loadExpired()
	if err != nil {
		return nil, err
	}
	bs, err := s.getBounds()
	if err != nil {
		return nil, err
	}

	p := &Protection{
		log:               logger,
		config:            config,
		clock:             clock,
		store:             s,
		genesis:           genesis,
		anchors:           anchors,
		expired:           set.Of(expiredIDs...),
		minAuthoritySetID: bs.MinAuthoritySetID,
	}
	if len(anchors) > 0 {
		p.log.Info("loaded social checkpoints",
			log.Int("count", len(anchors)),
			log.Stringer("latest", anchors[len(anchors)-1]),
		)
	}
	return p, nil
}

func (p *Protection) Genesis() Anchor {
	return p.genesis
}

// NewAnchorAtBlock builds a social anchor stamped with the current time.
func (p *Protection) NewAnchorAtBlock(blockNumber uint64, blockHash ids.ID, authoritySetID uint64) Anchor {
	return Anchor{
		BlockNumber:    blockNumber,
		BlockHash:      blockHash,
		AuthoritySetID: authoritySetID,
		Description:    fmt.Sprintf("social checkpoint at block %d", blockNumber),
		Timestamp:      p.clock.UnixMilli(),
	}
}

// AddSocialCheckpoint appends anchor. Both its block number and authority
// set id must be strictly greater than those of the latest anchor, or of
// genesis when there is none.
func (p *Protection) AddSocialCheckpoint(anchor Anchor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	last := p.genesis
	if len(p.anchors) > 0 {
		last = p.anchors[len(p.anchors)-1]
	}
	if anchor.BlockNumber <= last.BlockNumber {
		return fmt.Errorf("%w: block %d is not after %d", ErrNonMonotonicAnchor, anchor.BlockNumber, last.BlockNumber)
	}
	if anchor.AuthoritySetID <= last.AuthoritySetID {
		return fmt.Errorf("%w: authority set %d is not after %d", ErrNonMonotonicAnchor, anchor.AuthoritySetID, last.AuthoritySetID)
	}

	if err := p.store.putAnchor(anchor); err != nil {
		return fmt.Errorf("failed to persist anchor: %w", err)
	}
	p.anchors = append(p.anchors, anchor)

	if excess := len(p.anchors) - p.config.MaxSocialCheckpoints; excess > 0 {
		for _, evicted := range p.anchors[:excess] {
			if err := p.store.deleteAnchor(evicted.BlockNumber); err != nil {
				return fmt.Errorf("failed to evict anchor: %w", err)
			}
		}
		p.anchors = slices.Clone(p.anchors[excess:])
	}

	p.log.Info("added social checkpoint",
		log.Uint64("block", anchor.BlockNumber),
		log.Stringer("blockHash", anchor.BlockHash),
		log.Uint64("authoritySetID", anchor.AuthoritySetID),
		log.String("description", anchor.Description),
	)
	return nil
}

func (p *Protection) LatestSocialCheckpoint() (Anchor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.anchors) == 0 {
		return Anchor{}, false
	}
	return p.anchors[len(p.anchors)-1], true
}

// SocialCheckpoints returns the anchors, oldest first.
func (p *Protection) SocialCheckpoints() []Anchor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return slices.Clone(p.anchors)
}

// VerifyChainHistory checks a candidate chain against genesis and every
// anchor. An anchored height whose hash differs rejects the whole chain. An
// anchored height absent from the chain is only logged.
func (p *Protection) VerifyChainHistory(chain []BlockRef) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(chain) > 0 {
		first := chain[0]
		if first.Number == p.genesis.BlockNumber && first.Hash != p.genesis.BlockHash {
			return fmt.Errorf("%w: expected %s, got %s", ErrGenesisMismatch, p.genesis.BlockHash, first.Hash)
		}
	}

	hashes := make(map[uint64]ids.ID, len(chain))
	for _, block := range chain {
		hashes[block.Number] = block.Hash
	}
	for _, anchor := range p.anchors {
		hash, ok := hashes[anchor.BlockNumber]
		if !ok {
			p.log.Warn("chain missing anchored block",
				log.Uint64("block", anchor.BlockNumber),
				log.String("description", anchor.Description),
			)
			continue
		}
		if hash != anchor.BlockHash {
			return fmt.Errorf("%w: block %d expected %s, got %s",
				ErrAnchorMismatch, anchor.BlockNumber, anchor.BlockHash, hash)
		}
	}
	return nil
}

// ExpireAuthoritySet blacklists a rotated out authority set and raises the
// minimum accepted set id past it.
func (p *Protection) ExpireAuthoritySet(setID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.expired.Contains(setID) {
		return nil
	}
	if err := p.store.putExpired(setID); err != nil {
		return fmt.Errorf("failed to persist expired authority set: %w", err)
	}
	p.expired.Add(setID)

	if setID >= p.minAuthoritySetID {
		if err := p.raiseMin(setID + 1); err != nil {
			return err
		}
	}

	p.log.Info("authority set expired",
		log.Uint64("authoritySetID", setID),
		log.Uint64("minAuthoritySetID", p.minAuthoritySetID),
	)
	return nil
}

func (p *Protection) raiseMin(minID uint64) error {
	if minID <= p.minAuthoritySetID {
		return nil
	}
	if err := p.store.putBounds(bounds{MinAuthoritySetID: minID}); err != nil {
		return fmt.Errorf("failed to persist minimum authority set: %w", err)
	}
	p.minAuthoritySetID = minID
	return nil
}

func (p *Protection) IsAuthoritySetExpired(setID uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return setID < p.minAuthoritySetID || p.expired.Contains(setID)
}

// VerifyAuthoritySet refuses anything signed under an expired authority
// set.
func (p *Protection) VerifyAuthoritySet(setID uint64) error {
	if p.IsAuthoritySetExpired(setID) {
		return fmt.Errorf("%w: %d", ErrAuthoritySetExpired, setID)
	}
	return nil
}

func (p *Protection) MinAuthoritySetID() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.minAuthoritySetID
}

// SetMinAuthoritySetID raises the minimum accepted set id. Lower values are
// ignored.
func (p *Protection) SetMinAuthoritySetID(minID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.minAuthoritySetID
	if err := p.raiseMin(minID); err != nil {
		return err
	}
	if p.minAuthoritySetID != prev {
		p.log.Info("minimum authority set raised",
			log.Uint64("from", prev),
			log.Uint64("to", p.minAuthoritySetID),
		)
	}
	return nil
}

// CleanupExpiredSets forgets blacklisted sets below cutoff and returns how
// many were removed. The minimum set id still covers them.
func (p *Protection) CleanupExpiredSets(cutoff uint64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for _, setID := range p.expired.List() {
		if setID >= cutoff {
			continue
		}
		if err := p.store.deleteExpired(setID); err != nil {
			return removed, fmt.Errorf("failed to delete expired authority set: %w", err)
		}
		p.expired.Remove(setID)
		removed++
	}
	if removed > 0 {
		p.log.Debug("cleaned up expired authority sets",
			log.Int("removed", removed),
			log.Uint64("cutoff", cutoff),
		)
	}
	return removed, nil
}
