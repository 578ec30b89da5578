// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hotstuff

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/luxfi/ids"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracedEngine wraps an Engine and opens a span around every state change.
type TracedEngine struct {
	*Engine

	tracer oteltrace.Tracer
}

func Traced(engine *Engine, tracer oteltrace.Tracer) *TracedEngine {
	return &TracedEngine{
		Engine: engine,
		tracer: tracer,
	}
}

func (t *TracedEngine) StartConsensus(ctx context.Context, blockHash ids.ID, blockNumber uint64) error {
	_, span := t.tracer.Start(ctx, "hotstuff.StartConsensus", oteltrace.WithAttributes(
		attribute.Stringer("blockHash", blockHash),
		attribute.Int64("blockNumber", int64(blockNumber)),
	))
	defer span.End()

	return t.Engine.StartConsensus(blockHash, blockNumber)
}

func (t *TracedEngine) ProcessVote(ctx context.Context, vote *Vote) (*Certificate, error) {
	_, span := t.tracer.Start(ctx, "hotstuff.ProcessVote", oteltrace.WithAttributes(
		attribute.Stringer("blockHash", vote.BlockHash),
		attribute.Stringer("phase", vote.Phase),
		attribute.Stringer("validator", vote.Validator),
	))
	defer span.End()

	cert, err := t.Engine.ProcessVote(vote)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("certified", cert != nil))
	return cert, err
}

func (t *TracedEngine) ProcessCertificate(ctx context.Context, cert *Certificate) error {
	_, span := t.tracer.Start(ctx, "hotstuff.ProcessCertificate", oteltrace.WithAttributes(
		attribute.Stringer("blockHash", cert.BlockHash),
		attribute.Stringer("phase", cert.Phase),
		attribute.Stringer("issuer", cert.Issuer),
	))
	defer span.End()

	err := t.Engine.ProcessCertificate(cert)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (t *TracedEngine) ViewChange(ctx context.Context, blockHash ids.ID) error {
	_, span := t.tracer.Start(ctx, "hotstuff.ViewChange", oteltrace.WithAttributes(
		attribute.Stringer("blockHash", blockHash),
	))
	defer span.End()

	return t.Engine.ViewChange(blockHash)
}
