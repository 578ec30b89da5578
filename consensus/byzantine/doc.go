// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package byzantine detects misbehaving validators and keeps them out of
// consensus.
//
// The Detector counts discrete incidents such as duplicate votes. The Tracker
// measures checkpoint participation and raises an alert once ceil(n/3)
// validators are suspected. ForkAccountability turns conflicting signatures
// at one height into slashable evidence. The ExclusionManager consumes the
// detector's output and is the admission gate consulted before a vote is
// accepted.
package byzantine
