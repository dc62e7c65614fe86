// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

// eventKind tags the union in Event, restating the C implementation's
// free-form completion callbacks as the typed message set from §9
// ("a single-consumer event loop task receives Event { FetchDone |
// WriteDone | Tick | Idle } messages").
type eventKind uint8

const (
	eventMetadataFetchDone eventKind = iota
	eventMetadataWriteDone
	eventContentFetchDone
	eventContentWriteDone
	eventDeltaApplyDone
)

// Event is the single message type the loop goroutine ever receives.
// Every action dispatched by the loop (a fetch, a write, a static-delta
// job) reports back through exactly one Event value, so the loop body
// can remain a single switch with no other synchronization. Progress
// ticks come from the loop's own ticker and are not Events.
type Event struct {
	kind eventKind

	// metadata fetch/write fields
	csum       objKey
	isDetached bool
	tmpPath    string

	// static-delta fast-path fields
	deltaNotFound bool
	deltaErr      error

	// shared
	ref *refPull
	err error
}

// refPull carries the per-ref context a completion needs to find its
// way back to the right staged ref and remote (there can be several
// refs in flight at once, e.g. `pull origin a b c`). It also tracks the
// in-progress static-delta fast path for this ref, when one is in use.
type refPull struct {
	name       string // e.g. "master"; empty for a raw-hex pull target
	toRevision objKey

	usingDelta bool
}
