// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/gpgsign"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/store"
	"github.com/kranesystems/rfsdb/internal/transport"
	"github.com/kranesystems/rfsdb/internal/zetalog"
	"golang.org/x/sync/errgroup"
)

// run drives the whole two-phase pull to completion (§4.F): Phase 1
// resolves refs, Phase 2 starts object scanning for each, and the event
// loop below runs until every outstanding counter reaches zero or an
// error is latched.
func (e *Engine) run(ctx context.Context, refNames []string) (*Result, error) {
	group, gctx := errgroup.WithContext(ctx)
	e.group = group

	refs, err := e.phase1(ctx, refNames)
	if err != nil {
		return nil, err
	}
	e.refs = refs
	e.state.phase = FetchingObjects

	for _, rp := range e.refs {
		e.startRef(gctx, rp)
	}

	if err := e.loop(gctx); err != nil {
		return nil, err
	}
	e.progress.done()

	if err := group.Wait(); err != nil && e.state.err == nil {
		return nil, err
	}

	return e.finish()
}

// finish implements §4.F's "Ref commit step": stage every named ref
// whose to_revision differs from its currently resolved value, then
// hand control back to Pull to commit the transaction. Raw-hex pull
// targets (rp.name == "") fetch objects but update no ref.
func (e *Engine) finish() (*Result, error) {
	res := &Result{UpdatedRefs: map[string]checksum.Checksum{}}
	for _, rp := range e.refs {
		if rp.name == "" {
			continue
		}
		localName := localRemoteRefName(e.remote, rp.name)
		current, _ := e.repo.ResolveRef(localName)
		if current != nil && current.Checksum == rp.toRevision.Checksum {
			continue
		}
		if err := e.txn.StageRef(localName, rp.toRevision.Checksum); err != nil {
			return nil, err
		}
		res.UpdatedRefs[rp.name] = rp.toRevision.Checksum
	}
	res.FetchedMetadata = e.state.counters.fetchedMetadata
	res.FetchedContent = e.state.counters.fetchedContent
	res.BytesTransferred = e.fetcher.BytesTransferred()
	e.metrics.update(e.state.counters, res.BytesTransferred)
	res.Metrics = e.metrics.Snapshot()
	e.opts.Log.WithFields(map[string]any{
		"remote":           e.remote,
		"metadata_fetched": res.FetchedMetadata,
		"content_fetched":  res.FetchedContent,
		"bytes":            res.BytesTransferred,
		"refs_updated":     len(res.UpdatedRefs),
	}).Info("pull complete")
	return res, nil
}

// startRef kicks off Phase 2 for one resolved ref: either the
// static-delta fast path (if we already have a from_revision) or a
// direct object scan from scratch.
func (e *Engine) startRef(ctx context.Context, rp *refPull) {
	var from checksum.Checksum
	if rp.name != "" {
		if rv, err := e.repo.ResolveRef(localRemoteRefName(e.remote, rp.name)); err == nil && rv != nil {
			from = rv.Checksum
		}
	}

	if !from.IsZero() {
		e.tryStaticDelta(ctx, rp, from)
		return
	}
	e.scanMetadataObject(ctx, rp, rp.toRevision.Checksum, object.Commit, 0)
}

// loop is the single-consumer event loop (§9): it owns *state
// exclusively and is the only goroutine that ever touches it.
func (e *Engine) loop(ctx context.Context) error {
	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	for {
		if e.checkIdleAndMaybeExit() {
			return e.state.err
		}
		select {
		case <-ctx.Done():
			e.state.setErr(ErrCancelled)
			e.opts.Log.WithField("remote", e.remote).Warn("pull cancelled")
			return e.state.err
		case ev := <-e.events:
			e.handle(ctx, ev)
		case <-ticker.C:
			e.progress.tick(e.state, len(e.state.scannedMetadata), e.fetcher.BytesTransferred())
			e.metrics.update(e.state.counters, e.fetcher.BytesTransferred())
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	switch ev.kind {
	case eventMetadataFetchDone:
		e.onMetadataFetchDone(ctx, ev)
	case eventMetadataWriteDone:
		e.onMetadataWriteDone(ctx, ev)
	case eventContentFetchDone:
		e.onContentFetchDone(ctx, ev)
	case eventContentWriteDone:
		e.onContentWriteDone(ev)
	case eventDeltaApplyDone:
		e.onDeltaApplyDone(ctx, ev)
	}
}

// checkIdleAndMaybeExit implements §4.F's check_idle_and_maybe_exit:
// stop once every outstanding counter is zero and the loop has reached
// FetchingObjects, or immediately if an error has been latched.
func (e *Engine) checkIdleAndMaybeExit() bool {
	if e.state.err != nil {
		return true
	}
	return e.state.phase == FetchingObjects && e.state.counters.outstanding() == 0
}

// post delivers ev back to the loop goroutine; called only from
// dispatched action goroutines.
func (e *Engine) post(ev Event) {
	select {
	case e.events <- ev:
	default:
		// The channel is sized generously for normal fan-out; a full
		// channel here means the loop has stopped draining (already
		// erroring out), so a blocking send is used instead of
		// dropping the event.
		e.events <- ev
	}
}

// dispatchMetadataFetch starts one objects/<xx>/<rest>.<ext-or-commitmeta>
// GET on its own goroutine and reports completion as an Event (§4.F
// enqueue_object_fetch, metadata branch).
func (e *Engine) dispatchMetadataFetch(ctx context.Context, ref *refPull, csum checksum.Checksum, kind object.Kind, detachedMeta bool) {
	e.state.counters.outstandingMetadataFetches++
	e.group.Go(func() error {
		uri := objectURI(kind, csum, detachedMeta)
		path, err := e.fetcher.RequestURIWithPartial(ctx, uri, e.tmpDir())
		e.post(Event{kind: eventMetadataFetchDone, csum: objKey{Checksum: csum, Kind: kind}, isDetached: detachedMeta, tmpPath: path, ref: ref, err: err})
		return nil
	})
}

// dispatchContentFetch starts one FILE object GET (§4.F
// enqueue_object_fetch, content branch).
func (e *Engine) dispatchContentFetch(ctx context.Context, ref *refPull, csum checksum.Checksum) {
	e.state.counters.outstandingContentFetches++
	e.group.Go(func() error {
		uri := objectURI(object.File, csum, false)
		path, err := e.fetcher.RequestURIWithPartial(ctx, uri, e.tmpDir())
		e.post(Event{kind: eventContentFetchDone, csum: objKey{Checksum: csum, Kind: object.File}, tmpPath: path, ref: ref, err: err})
		return nil
	})
}

// dispatchMetadataWrite hands a decoded metadata variant to the store
// writer (§4.F write_metadata_async).
func (e *Engine) dispatchMetadataWrite(ref *refPull, csum checksum.Checksum, kind object.Kind, enc object.Encoder) {
	e.state.counters.outstandingMetadataWrites++
	e.group.Go(func() error {
		actual, err := e.store().WriteMetadata(kind, csum, enc)
		e.post(Event{kind: eventMetadataWriteDone, csum: objKey{Checksum: actual, Kind: kind}, ref: ref, err: err})
		return nil
	})
}

// dispatchContentWrite hands a decoded content stream to the store
// writer (§4.F write_content_async). content is closed by the goroutine
// once the write completes.
func (e *Engine) dispatchContentWrite(ref *refPull, csum checksum.Checksum, header *object.FileHeader, content io.ReadCloser) {
	e.state.counters.outstandingContentWrites++
	e.group.Go(func() error {
		defer content.Close()
		actual, err := e.store().WriteContent(csum, header, content)
		e.post(Event{kind: eventContentWriteDone, csum: objKey{Checksum: actual, Kind: object.File}, ref: ref, err: err})
		return nil
	})
}

// onMetadataFetchDone is §4.F's "Metadata fetch complete".
func (e *Engine) onMetadataFetchDone(ctx context.Context, ev Event) {
	e.state.counters.outstandingMetadataFetches--
	if ev.err != nil {
		if errors.Is(ev.err, transport.ErrNotFound) {
			if ev.isDetached {
				if e.gpgRequired() {
					e.state.setErr(gpgMissingErr(ev.csum.Checksum))
					return
				}
				e.dispatchMetadataFetch(ctx, ev.ref, ev.csum.Checksum, ev.csum.Kind, false)
				return
			}
			e.state.setErr(fmt.Errorf("rfsdb: remote %w", &store.ErrNotFound{Checksum: ev.csum.Checksum, Kind: ev.csum.Kind}))
			return
		}
		e.state.setErr(ev.err)
		return
	}

	raw, err := os.ReadFile(ev.tmpPath)
	_ = os.Remove(ev.tmpPath)
	if err != nil {
		e.state.setErr(err)
		return
	}

	if ev.isDetached {
		meta, err := object.ReadMetadataMap(bytes.NewReader(raw))
		if err != nil {
			e.state.setErr(err)
			return
		}
		e.state.pendingCommitMetas[ev.csum.Checksum.String()] = &pendingCommitMeta{metadata: meta}
		e.dispatchMetadataFetch(ctx, ev.ref, ev.csum.Checksum, ev.csum.Kind, false)
		return
	}

	e.state.counters.fetchedMetadata++
	switch ev.csum.Kind {
	case object.Commit:
		commit, err := object.DecodeCommit(bytes.NewReader(raw))
		if err != nil {
			e.state.setErr(err)
			return
		}
		if e.gpgRequired() {
			if err := e.verifyCommitSignature(ev.csum.Checksum, raw); err != nil {
				e.state.setErr(err)
				return
			}
		}
		e.dispatchMetadataWrite(ev.ref, ev.csum.Checksum, object.Commit, commit)
	case object.DirTree:
		tree, err := object.DecodeDirTree(bytes.NewReader(raw))
		if err != nil {
			e.state.setErr(err)
			return
		}
		e.dispatchMetadataWrite(ev.ref, ev.csum.Checksum, object.DirTree, tree)
	case object.DirMeta:
		meta, err := object.DecodeDirMeta(bytes.NewReader(raw))
		if err != nil {
			e.state.setErr(err)
			return
		}
		e.dispatchMetadataWrite(ev.ref, ev.csum.Checksum, object.DirMeta, meta)
	}
}

// onMetadataWriteDone is §4.F's "Metadata write complete": recursion
// into the newly-stored object is triggered from here, and only from
// here (§5's ordering guarantee: "write for kind finishes before any
// recursion into it").
func (e *Engine) onMetadataWriteDone(ctx context.Context, ev Event) {
	e.state.counters.outstandingMetadataWrites--
	if ev.err != nil {
		e.state.setErr(ev.err)
		return
	}
	e.state.counters.writtenMetadata++
	depth := 0
	if ev.csum.Kind == object.DirTree {
		depth = e.state.treeDepth[ev.csum]
	}
	e.scanMetadataObject(ctx, ev.ref, ev.csum.Checksum, ev.csum.Kind, depth)
}

// onContentFetchDone is §4.F's "Content fetch complete".
func (e *Engine) onContentFetchDone(ctx context.Context, ev Event) {
	e.state.counters.outstandingContentFetches--
	if ev.err != nil {
		if errors.Is(ev.err, transport.ErrNotFound) {
			e.state.setErr(fmt.Errorf("rfsdb: remote %w", &store.ErrNotFound{Checksum: ev.csum.Checksum, Kind: object.File}))
			return
		}
		e.state.setErr(ev.err)
		return
	}

	f, err := os.Open(ev.tmpPath)
	if err != nil {
		e.state.setErr(err)
		return
	}
	header, content, err := object.DecodeArchiveFile(f)
	_ = os.Remove(ev.tmpPath)
	if err != nil {
		_ = f.Close()
		e.state.setErr(err)
		return
	}
	e.dispatchContentWrite(ev.ref, ev.csum.Checksum, header, &closeWithFile{ReadCloser: content, f: f})
}

// onContentWriteDone is §4.F's "Content write complete": n_fetched_content
// counts on write completion, not on fetch completion, so a content
// object that fails its post-fetch checksum verification (store.WriteContent's
// own check, surfaced as ev.err here) is never counted as fetched.
func (e *Engine) onContentWriteDone(ev Event) {
	e.state.counters.outstandingContentWrites--
	if ev.err != nil {
		e.state.setErr(ev.err)
		return
	}
	e.state.counters.fetchedContent++
	e.state.counters.writtenContent++
}

func (e *Engine) gpgRequired() bool {
	return e.remoteCfg.GPGVerify
}

func gpgMissingErr(csum checksum.Checksum) error {
	return fmt.Errorf("rfsdb: %w: commit %s", gpgsign.ErrMissingSignatures, csum)
}

// closeWithFile closes both a decoded content stream and the archive
// file it was read from, mirroring store.closeBoth for fetched (rather
// than locally stored) archive blobs.
type closeWithFile struct {
	io.ReadCloser
	f *os.File
}

func (c *closeWithFile) Close() error {
	err := c.ReadCloser.Close()
	if ferr := c.f.Close(); err == nil {
		err = ferr
	}
	return err
}

