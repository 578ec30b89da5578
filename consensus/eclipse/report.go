// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package eclipse

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
)

type ValidatorDiversity struct {
	NodeID        ids.NodeID
	UniqueSources int
	Sources       []string
	AtRisk        bool
}

type BlockDiversity struct {
	BlockNumber   uint64
	BlockHash     ids.ID
	UniqueSources int
	Sources       []string
	AtRisk        bool
}

type Report struct {
	// Validators is sorted by source count, fewest first.
	Validators []ValidatorDiversity
	// Blocks is sorted by block number.
	Blocks           []BlockDiversity
	RecentWarnings   []Warning
	EclipseRisk      bool
	MinUniqueSources int
	WarningThreshold int
}

func (d *Detector) GenerateReport() Report {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var validators []ValidatorDiversity
	for _, key := range d.validatorSources.Keys() {
		value, ok := d.validatorSources.Peek(key)
		if !ok {
			continue
		}
		sources := value.(set.Set[string])
		validators = append(validators, ValidatorDiversity{
			NodeID:        key.(ids.NodeID),
			UniqueSources: sources.Len(),
			Sources:       sortedSources(sources),
			AtRisk:        sources.Len() < d.config.WarningThreshold,
		})
	}
	slices.SortFunc(validators, func(a, b ValidatorDiversity) int {
		if c := cmp.Compare(a.UniqueSources, b.UniqueSources); c != 0 {
			return c
		}
		return bytes.Compare(a.NodeID[:], b.NodeID[:])
	})

	blocks := make([]BlockDiversity, 0, len(d.blockSources))
	for key, sources := range d.blockSources {
		blocks = append(blocks, BlockDiversity{
			BlockNumber:   key.number,
			BlockHash:     key.hash,
			UniqueSources: sources.Len(),
			Sources:       sortedSources(sources),
			AtRisk:        sources.Len() < d.config.MinUniqueSources,
		})
	}
	slices.SortFunc(blocks, func(a, b BlockDiversity) int {
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
			return c
		}
		return bytes.Compare(a.BlockHash[:], b.BlockHash[:])
	})

	return Report{
		Validators:       validators,
		Blocks:           blocks,
		RecentWarnings:   d.recentWarnings(reportWarnings),
		EclipseRisk:      d.checkEclipseRisk(),
		MinUniqueSources: d.config.MinUniqueSources,
		WarningThreshold: d.config.WarningThreshold,
	}
}
