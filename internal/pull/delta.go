// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/delta"
	"github.com/kranesystems/rfsdb/internal/delta/apply"
	"github.com/kranesystems/rfsdb/internal/gpgsign"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/transport"
	"github.com/kranesystems/rfsdb/internal/zetalog"
)

// tryStaticDelta implements §4.F's fast path: "attempt to GET the
// static delta superblock at deltas/<from>/<to>; on NOT_FOUND fall back
// to object-by-object". §9's design notes record that the fetch-time C
// code ("static_deltapart_fetch_on_complete") downloads parts without
// applying them, deferring to the same offline-apply code path used by
// `static-delta apply` — this implementation follows that prescription
// directly: every part needed is staged under remote-cache/ and then
// handed to internal/delta/apply.Apply, rather than replayed inline.
//
// The whole sequence (superblock, optional detached-metadata
// verification, missing-part fetches, and the final apply) runs on one
// dispatched goroutine rather than as separate event-loop round trips
// per part; this is a deliberate simplification over a literal
// per-part FetchDone/WriteDone event sequence, since parts have no
// recursive structure to interleave with (unlike metadata/content
// objects, nothing needs to observe a part's completion before
// requesting the next one).
func (e *Engine) tryStaticDelta(ctx context.Context, rp *refPull, from checksum.Checksum) {
	to := rp.toRevision.Checksum
	e.state.counters.outstandingPartFetches++
	e.group.Go(func() error {
		sb, dir, err := e.fetchSuperblock(ctx, from, to)
		if err != nil {
			if errors.Is(err, transport.ErrNotFound) {
				e.post(Event{kind: eventDeltaApplyDone, ref: rp, deltaNotFound: true})
				return nil
			}
			e.post(Event{kind: eventDeltaApplyDone, ref: rp, deltaErr: err})
			return nil
		}

		if e.gpgRequired() {
			if err := e.verifyDeltaSignature(ctx, from, to, dir); err != nil {
				e.post(Event{kind: eventDeltaApplyDone, ref: rp, deltaErr: err})
				return nil
			}
		}

		if err := e.fetchMissingParts(ctx, from, to, dir, sb); err != nil {
			e.post(Event{kind: eventDeltaApplyDone, ref: rp, deltaErr: err})
			return nil
		}
		if err := e.fetchFallbackObjects(ctx, sb, dir); err != nil {
			e.post(Event{kind: eventDeltaApplyDone, ref: rp, deltaErr: err})
			return nil
		}

		if _, err := apply.Apply(e.store(), dir, apply.Options{}); err != nil {
			e.post(Event{kind: eventDeltaApplyDone, ref: rp, deltaErr: err})
			return nil
		}
		e.post(Event{kind: eventDeltaApplyDone, ref: rp})
		return nil
	})
}

// onDeltaApplyDone handles the static-delta job's single completion:
// success means the ref's closure is already complete (the applier
// materialized every part plus the embedded to-commit), NOT_FOUND means
// falling back to the ordinary per-object scan, and any other error is
// fatal to the pull.
func (e *Engine) onDeltaApplyDone(ctx context.Context, ev Event) {
	e.state.counters.outstandingPartFetches--
	if ev.deltaNotFound {
		zetalog.ForRemote(e.opts.Log, e.remote, ev.ref.name).
			Debug("no static delta available, falling back to per-object scan")
		e.scanMetadataObject(ctx, ev.ref, ev.ref.toRevision.Checksum, object.Commit, 0)
		return
	}
	if ev.deltaErr != nil {
		e.state.setErr(ev.deltaErr)
		return
	}
	ev.ref.usingDelta = true
	e.state.counters.fetchedMetadata++
	zetalog.ForRemote(e.opts.Log, e.remote, ev.ref.name).Info("applied static delta")
	// The delta closure is complete by construction (§4.H packs every
	// reachable object not already local). Scanning the to-commit marks it
	// as scanned; only on a resumed transaction does the scan also walk
	// its now-local children.
	e.scanMetadataObject(ctx, ev.ref, ev.ref.toRevision.Checksum, object.Commit, 0)
}

// fetchSuperblock downloads deltas/<from>/<to>/meta into a fresh
// remote-cache/<remote>/<from>-<to>/ staging directory and parses it.
func (e *Engine) fetchSuperblock(ctx context.Context, from, to checksum.Checksum) (*delta.Superblock, string, error) {
	dir := filepath.Join(e.repo.RemoteCacheDir(e.remote), from.String()+"-"+to.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", err
	}
	rc, err := e.fetcher.StreamURI(ctx, deltaSuperblockURI(from, to))
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()
	f, err := os.Create(filepath.Join(dir, "meta"))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return nil, "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, "", err
	}
	sb, err := delta.ReadSuperblock(f)
	_ = f.Close()
	if err != nil {
		return nil, "", err
	}
	return sb, dir, nil
}

// verifyDeltaSignature fetches deltas/<from>/<to>/.commitmeta and
// verifies it against the already-downloaded superblock bytes (§4.J).
// A NOT_FOUND commitmeta is not silently accepted here: unlike a bare
// commit's detached metadata, a gpg-verify remote is expected to sign
// every delta it serves, so absence is treated the same as a failed
// verification.
func (e *Engine) verifyDeltaSignature(ctx context.Context, from, to checksum.Checksum, dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, "meta"))
	if err != nil {
		return err
	}
	rc, err := e.fetcher.StreamURI(ctx, deltaCommitMetaURI(from, to))
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return gpgsign.ErrMissingSignatures
		}
		return err
	}
	defer rc.Close()
	m, err := gpgsign.ReadDetachedMetadata(rc)
	if err != nil {
		return err
	}
	return gpgsign.VerifyMetadata(raw, m, e.opts.Keyring)
}

// fetchMissingParts downloads every part the store doesn't already
// satisfy (delta.PartHeader.PartHaveAllObjects) into dir, under the
// numeric names the offline applier expects.
func (e *Engine) fetchMissingParts(ctx context.Context, from, to checksum.Checksum, dir string, sb *delta.Superblock) error {
	s := e.store()
	for i := range sb.Parts {
		if sb.Parts[i].PartHaveAllObjects(s.HasObject) {
			continue
		}
		if err := e.fetchToFile(ctx, deltaPartURI(from, to, i), filepath.Join(dir, fmt.Sprintf("%d", i))); err != nil {
			return err
		}
	}
	return nil
}

// fetchFallbackObjects downloads the FILE objects the generator routed
// around the part-packing path for being too large (§4.G item 8,
// §4.H).
func (e *Engine) fetchFallbackObjects(ctx context.Context, sb *delta.Superblock, dir string) error {
	s := e.store()
	for _, fb := range sb.Fallback {
		if s.HasObject(fb.Kind, fb.Checksum) {
			continue
		}
		uri := objectURI(fb.Kind, fb.Checksum, false)
		path, err := e.fetcher.RequestURIWithPartial(ctx, uri, e.tmpDir())
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		header, content, err := object.DecodeArchiveFile(f)
		if err != nil {
			_ = f.Close()
			return err
		}
		_, err = s.WriteContent(fb.Checksum, header, content)
		_ = content.Close()
		_ = f.Close()
		_ = os.Remove(path)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fetchToFile(ctx context.Context, uri, dst string) error {
	rc, err := e.fetcher.StreamURI(ctx, uri)
	if err != nil {
		return err
	}
	defer rc.Close()
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, rc)
	return err
}
