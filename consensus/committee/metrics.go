// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package committee

import (
	"github.com/luxfi/metric"

	"github.com/luxfi/asf/utils/wrappers"
)

type managerMetrics struct {
	rotations      metric.Counter
	committeeSize  metric.Gauge
	committeeStake metric.Gauge
}

func newManagerMetrics(registerer metric.Registerer) (*managerMetrics, error) {
	m := &managerMetrics{
		rotations: metric.NewCounter(metric.CounterOpts{
			Name: "committee_rotations",
			Help: "Number of committee rotations",
		}),
		committeeSize: metric.NewGauge(metric.GaugeOpts{
			Name: "committee_size",
			Help: "Number of members in the current committee",
		}),
		committeeStake: metric.NewGauge(metric.GaugeOpts{
			Name: "committee_stake",
			Help: "Total stake of the current committee",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(metric.AsCollector(m.rotations)),
		registerer.Register(metric.AsCollector(m.committeeSize)),
		registerer.Register(metric.AsCollector(m.committeeStake)),
	)
	return m, errs.Err
}

func (m *managerMetrics) observe(committee []Member) {
	m.committeeSize.Set(float64(len(committee)))
	m.committeeStake.Set(float64(totalStake(committee)))
}
