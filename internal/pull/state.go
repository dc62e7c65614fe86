// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/traverse"
)

// Phase is the pull engine's two-phase lifecycle (§4.F).
type Phase uint8

const (
	FetchingRefs Phase = iota
	FetchingObjects
)

// objKey identifies one object by (checksum, kind); reusing traverse's
// key shape keeps the "already walked" and "already fetching" sets
// comparable with a traverse.Set without any conversion step.
type objKey = traverse.Key

// counters holds the six outstanding/completed counts named in §4.F.
// Every field is only ever touched from the loop goroutine.
type counters struct {
	outstandingMetadataFetches int
	outstandingMetadataWrites  int
	outstandingContentFetches  int
	outstandingContentWrites   int
	outstandingPartFetches     int
	outstandingPartWrites      int

	fetchedMetadata int
	fetchedContent  int
	writtenMetadata int
	writtenContent  int
}

func (c *counters) outstanding() int {
	return c.outstandingMetadataFetches + c.outstandingMetadataWrites +
		c.outstandingContentFetches + c.outstandingContentWrites +
		c.outstandingPartFetches + c.outstandingPartWrites
}

// pendingCommitMeta remembers a commit's detached metadata between the
// commitmeta fetch and the commit object fetch it gates, keyed by the
// commit's checksum hex string (there is at most one such commit in
// flight per ref, but keying by string keeps the map trivially safe for
// concurrent refs).
type pendingCommitMeta struct {
	metadata object.Metadata
}

// state is the pull engine's PullState (§4.F): every field here is
// mutated only by the loop goroutine that owns it (§5 "no field of
// PullState is accessed off the loop thread").
type state struct {
	phase Phase

	scannedMetadata    map[objKey]struct{}
	requestedMetadata  map[objKey]struct{}
	requestedContent   map[objKey]struct{}
	pendingCommitMetas map[string]*pendingCommitMeta

	// treeDepth remembers the nesting depth each DIR_TREE was first
	// discovered at, keyed the same way scannedMetadata is, so the
	// async write-done continuation in onMetadataWriteDone can recover
	// the depth scanMetadataObject needs to re-enforce I4 when it
	// re-enters a DIR_TREE whose fetch/write just completed.
	treeDepth map[objKey]int

	counters counters

	err error

	resuming bool
}

func newState(resuming bool) *state {
	return &state{
		phase:              FetchingRefs,
		scannedMetadata:    map[objKey]struct{}{},
		requestedMetadata:  map[objKey]struct{}{},
		requestedContent:   map[objKey]struct{}{},
		pendingCommitMetas: map[string]*pendingCommitMeta{},
		treeDepth:          map[objKey]int{},
		resuming:           resuming,
	}
}

// setErr records the first failure only (§7 propagation policy:
// "subsequent errors are discarded to avoid masking").
func (s *state) setErr(err error) {
	if err == nil || s.err != nil {
		return
	}
	s.err = err
}
