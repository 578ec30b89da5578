// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

/*
Package consensus contains the ASF finality engine and its supporting
managers.

# Components

HotStuff: four-phase BFT voting (Prepare, PreCommit, Commit, Decide) with
quorum certificates and graded finality levels. Located in the hotstuff
subpackage.

Committee: stake and reputation weighted committee selection with
Proportional Fair Priority Assignment of slot proposers.

Ant: fallback block production when the slot's queen (proposer) stays
silent past the ant timeout.

Byzantine: suspicion reports, participation tracking, exclusion and fork
accountability.

Eclipse and LongRange: peer diversity checks on signatures and
certificates, and authority set verification against social consensus
anchors.

Attestation: cross-chain finality attestations with a challenge window,
guarded by the bridge security manager.

The asf subpackage wires all of the above into a single Finality service.
*/
package consensus
