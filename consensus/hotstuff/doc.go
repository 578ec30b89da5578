// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hotstuff implements four-phase HotStuff finality over individual
// blocks.
//
// Every tracked block moves through Prepare, PreCommit, Commit and Decide.
// Votes for the current phase are collected until both a count quorum of
// floor(2n/3)+1 validators and a stake quorum of floor(2s/3)+1 are reached,
// at which point a certificate is minted and the block advances. Certificates
// from peers are adopted independently; the number of certificates a block
// holds determines its FinalityLevel.
package hotstuff
