// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package traverse computes reachable-object sets from a starting
// commit (§4.E): a DFS over COMMIT → (DIR_TREE, DIR_META) → (FILE,
// subtree/submeta pairs), keyed by (checksum, kind), with a visited
// set and a hard recursion-depth bound (I4).
//
// Grounded on antgroup-hugescm's modules/zeta/backend/pack-objects.go
// reachability walk: the same visited-set-keyed-by-object-identity
// shape, adapted from git's commit/tree/blob graph onto this domain's
// four object kinds and two-level tree/meta split.
package traverse

import (
	"fmt"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/store"
)

// Key identifies one reachable object by its checksum and kind.
type Key struct {
	Checksum checksum.Checksum
	Kind     object.Kind
}

// Set is a reachable-object set, as produced by Commit and NewReachable.
type Set map[Key]struct{}

// RecursionExceeded is returned when DIR_TREE nesting exceeds
// object.MaxTreeDepth (I4).
type RecursionExceeded struct {
	Depth int
}

func (e *RecursionExceeded) Error() string {
	return fmt.Sprintf("rfsdb: tree recursion exceeded depth %d", e.Depth)
}

func IsRecursionExceeded(err error) bool {
	_, ok := err.(*RecursionExceeded)
	return ok
}

// walker threads the loaded store and a caller-supplied "already known"
// set through the recursive descent, so Commit and NewReachable share
// one implementation.
type walker struct {
	s      *store.Store
	known  Set // pre-existing membership; not re-walked, not re-added to out
	out    Set
}

// Commit returns the full reachable set from commit csum.
func Commit(s *store.Store, csum checksum.Checksum) (Set, error) {
	return walk(s, csum, nil)
}

// NewReachable returns the reachable set from commit csum, minus
// members already present in base.
func NewReachable(s *store.Store, base Set, csum checksum.Checksum) (Set, error) {
	return walk(s, csum, base)
}

func walk(s *store.Store, csum checksum.Checksum, known Set) (Set, error) {
	w := &walker{s: s, known: known, out: Set{}}
	if err := w.visitCommit(csum); err != nil {
		return nil, err
	}
	return w.out, nil
}

func (w *walker) seen(k Key) bool {
	if _, ok := w.out[k]; ok {
		return true
	}
	if w.known != nil {
		if _, ok := w.known[k]; ok {
			return true
		}
	}
	return false
}

func (w *walker) visitCommit(csum checksum.Checksum) error {
	k := Key{Checksum: csum, Kind: object.Commit}
	if w.seen(k) {
		return nil
	}
	lm, err := w.s.LoadMetadata(object.Commit, csum)
	if err != nil {
		return err
	}
	w.out[k] = struct{}{}
	if err := w.visitTree(lm.Commit.Tree, 1); err != nil {
		return err
	}
	return w.visitDirMeta(lm.Commit.DirMeta)
}

func (w *walker) visitTree(csum checksum.Checksum, depth int) error {
	if depth > object.MaxTreeDepth {
		return &RecursionExceeded{Depth: depth}
	}
	k := Key{Checksum: csum, Kind: object.DirTree}
	if w.seen(k) {
		return nil
	}
	lm, err := w.s.LoadMetadata(object.DirTree, csum)
	if err != nil {
		return err
	}
	w.out[k] = struct{}{}
	for _, f := range lm.DirTree.Files {
		if err := w.visitFile(f.File); err != nil {
			return err
		}
	}
	for _, d := range lm.DirTree.Dirs {
		if err := w.visitTree(d.Tree, depth+1); err != nil {
			return err
		}
		if err := w.visitDirMeta(d.DirMeta); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) visitDirMeta(csum checksum.Checksum) error {
	k := Key{Checksum: csum, Kind: object.DirMeta}
	if w.seen(k) {
		return nil
	}
	if _, err := w.s.LoadMetadata(object.DirMeta, csum); err != nil {
		return err
	}
	w.out[k] = struct{}{}
	return nil
}

func (w *walker) visitFile(csum checksum.Checksum) error {
	k := Key{Checksum: csum, Kind: object.File}
	if w.seen(k) {
		return nil
	}
	if !w.s.HasObject(object.File, csum) {
		return &store.ErrNotFound{Checksum: csum, Kind: object.File}
	}
	w.out[k] = struct{}{}
	return nil
}
