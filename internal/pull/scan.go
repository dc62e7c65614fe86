// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"context"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/gpgsign"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/traverse"
)

// scanMetadataObject implements §4.F's scan_metadata_object: the
// idempotent recursive descent that either enqueues a fetch for an
// object we don't have yet, or walks into one we (now) do.
//
// depth is the DIR_TREE's nesting level from its commit's root tree
// (1 for the root tree itself); it is meaningless for Commit and
// DirMeta keys, which are only ever leaves or single-level roots, but
// is threaded through every call so a DIR_TREE reached from a deeper
// path is bounded the same way internal/traverse.visitTree bounds its
// own recursion (I4) — this is the pull path's own adversarial-input
// surface (P7: "a cyclic or over-deep DIR_TREE graph ... fails with
// RecursionExceeded rather than loop"), fed by an untrusted remote.
func (e *Engine) scanMetadataObject(ctx context.Context, ref *refPull, csum checksum.Checksum, kind object.Kind, depth int) {
	key := objKey{Checksum: csum, Kind: kind}

	if kind == object.DirTree {
		if depth > object.MaxTreeDepth {
			e.state.setErr(&traverse.RecursionExceeded{Depth: depth})
			return
		}
		if _, ok := e.state.treeDepth[key]; !ok {
			e.state.treeDepth[key] = depth
		}
	}

	if _, ok := e.state.scannedMetadata[key]; ok {
		return
	}

	s := e.store()
	stored := s.HasObject(kind, csum)

	if !stored {
		if _, requested := e.state.requestedMetadata[key]; !requested {
			e.state.requestedMetadata[key] = struct{}{}
			e.dispatchMetadataFetch(ctx, ref, csum, kind, kind == object.Commit)
			return
		}
		// Already requested and still not stored: nothing to do until
		// its fetch/write completes and re-enters this function.
		return
	}

	_, justRequestedByUs := e.state.requestedMetadata[key]
	if !e.state.resuming && !justRequestedByUs {
		// Already stored from a prior, unrelated pull and this is not a
		// resumed transaction: no need to re-walk its children.
		e.state.scannedMetadata[key] = struct{}{}
		return
	}

	switch kind {
	case object.Commit:
		lm, err := s.LoadMetadata(object.Commit, csum)
		if err != nil {
			e.state.setErr(err)
			return
		}
		e.scanMetadataObject(ctx, ref, lm.Commit.Tree, object.DirTree, 1)
		e.scanMetadataObject(ctx, ref, lm.Commit.DirMeta, object.DirMeta, 0)
	case object.DirTree:
		lm, err := s.LoadMetadata(object.DirTree, csum)
		if err != nil {
			e.state.setErr(err)
			return
		}
		for _, f := range lm.DirTree.Files {
			fkey := objKey{Checksum: f.File, Kind: object.File}
			if s.HasObject(object.File, f.File) {
				continue
			}
			if _, requested := e.state.requestedContent[fkey]; requested {
				continue
			}
			e.state.requestedContent[fkey] = struct{}{}
			e.dispatchContentFetch(ctx, ref, f.File)
		}
		for _, d := range lm.DirTree.Dirs {
			e.scanMetadataObject(ctx, ref, d.Tree, object.DirTree, depth+1)
			e.scanMetadataObject(ctx, ref, d.DirMeta, object.DirMeta, 0)
		}
	case object.DirMeta:
		// Leaf: no further descent.
	}

	e.state.scannedMetadata[key] = struct{}{}
}

// verifyCommitSignature checks a fetched commit's raw canonical bytes
// against any detached metadata staged for it by an earlier commitmeta
// fetch (§4.J, §4.F). Called only when the remote's gpg-verify flag is
// set.
func (e *Engine) verifyCommitSignature(csum checksum.Checksum, raw []byte) error {
	pending, ok := e.state.pendingCommitMetas[csum.String()]
	if !ok {
		return gpgMissingErr(csum)
	}
	delete(e.state.pendingCommitMetas, csum.String())
	return gpgsign.VerifyMetadata(raw, pending.metadata, e.opts.Keyring)
}
