// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"github.com/luxfi/metric"

	"github.com/luxfi/asf/utils/wrappers"
)

type engineMetrics struct {
	votesProcessed      metric.Counter
	votesRejected       metric.Counter
	certificatesMinted  metric.Counter
	certificatesAdopted metric.Counter
	blocksFinalized     metric.Counter
	activeBlocks        metric.Gauge
}

func newEngineMetrics(registerer metric.Registerer) (*engineMetrics, error) {
	m := &engineMetrics{
		votesProcessed: metric.NewCounter(metric.CounterOpts{
			Name: "hotstuff_votes_processed",
			Help: "Number of votes accepted into a vote collection",
		}),
		votesRejected: metric.NewCounter(metric.CounterOpts{
			Name: "hotstuff_votes_rejected",
			Help: "Number of votes rejected",
		}),
		certificatesMinted: metric.NewCounter(metric.CounterOpts{
			Name: "hotstuff_certificates_minted",
			Help: "Number of certificates aggregated locally from votes",
		}),
		certificatesAdopted: metric.NewCounter(metric.CounterOpts{
			Name: "hotstuff_certificates_adopted",
			Help: "Number of certificates adopted from other validators",
		}),
		blocksFinalized: metric.NewCounter(metric.CounterOpts{
			Name: "hotstuff_blocks_finalized",
			Help: "Number of blocks that reached the decide phase",
		}),
		activeBlocks: metric.NewGauge(metric.GaugeOpts{
			Name: "hotstuff_active_blocks",
			Help: "Number of blocks tracked by the engine",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.votesProcessed)),
		registerer.Register(metric.AsCollector(m.votesRejected)),
		registerer.Register(metric.AsCollector(m.certificatesMinted)),
		registerer.Register(metric.AsCollector(m.certificatesAdopted)),
		registerer.Register(metric.AsCollector(m.blocksFinalized)),
		registerer.Register(metric.AsCollector(m.activeBlocks)),
	)
	return m, errs.Err
}
