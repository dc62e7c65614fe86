// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/repo"
	"github.com/kranesystems/rfsdb/internal/store"
	"github.com/kranesystems/rfsdb/internal/traverse"
)

// Fsck verifies the checksums of every object reachable from a loose
// COMMIT, per §6's fsck interface and P8's corruption-detection
// property. Unreachable garbage left behind by an aborted transaction is
// not visited, matching the original's own fsck scope.
//
// Grounded directly on original_source's ot-builtin-fsck.c: first
// enumerate every loose object to find the COMMIT objects
// (`ostree_repo_list_objects`), then walk only the reachable closure of
// those commits (`fsck_reachable_objects_from_commits` /
// `ostree_repo_traverse_commit_union`), verifying each visited object's
// checksum (`load_and_fsck_one_object`) rather than every loose file
// blindly. The walk itself mirrors internal/traverse's visited-set and
// depth-bound shape (I4) rather than calling ostree_repo_traverse_commit_union
// directly, because fsck needs to verify a metadata object's own bytes
// *before* trusting its decoded children pointers enough to recurse into
// them — traverse.Commit has no such gate, since its caller (the pull
// engine) only ever walks objects it just verified itself.
type Fsck struct {
	Delete bool `name:"delete" help:"Remove corrupted objects"`
}

func (c *Fsck) Run(g *Globals) error {
	r, err := repo.Open(g.CWD)
	if err != nil {
		return usageError("open repository: %v", err)
	}
	defer r.Close() // nolint

	s := r.Store()
	loose, err := s.ListLoose()
	if err != nil {
		return failureError("list loose objects: %v", err)
	}

	if !g.Quiet {
		fmt.Println("enumerating objects...")
	}
	var commits []checksum.Checksum
	for _, obj := range loose {
		if obj.Kind == object.Commit {
			commits = append(commits, obj.Checksum)
		}
	}

	if !g.Quiet {
		fmt.Printf("verifying content integrity of %d commit object(s)...\n", len(commits))
	}

	st := &fsckState{s: s, delete: c.Delete, visited: map[traverse.Key]struct{}{}}
	for _, csum := range commits {
		st.walkCommit(csum)
	}

	if !g.Quiet {
		fmt.Printf("fsck: %d object(s) checked, %d corrupt\n", st.checked, st.corrupt)
	}
	if st.corrupt > 0 {
		return &ErrExitCode{ExitCode: 1, Message: fmt.Sprintf("%d corrupt object(s) found", st.corrupt)}
	}
	return nil
}

// fsckState accumulates one fsck walk: the store being checked, whether
// corrupt objects should be deleted, and the visited set keyed the same
// way internal/traverse keys its own reachable set, so a DIR_TREE or
// DIR_META shared by several commits is only verified once.
type fsckState struct {
	s       *store.Store
	delete  bool
	visited map[traverse.Key]struct{}
	checked int
	corrupt int
}

// verifyRaw recomputes the on-disk checksum for (kind, csum) and reports
// ChecksumMismatch, deleting the object if requested, the way
// load_and_fsck_one_object does. Its return value tells the caller
// whether the object's declared contents can be trusted enough to decode
// and recurse into.
func (st *fsckState) verifyRaw(kind object.Kind, csum checksum.Checksum) bool {
	st.checked++
	data, err := st.s.ReadRawObject(kind, csum)
	if err != nil {
		st.corrupt++
		fmt.Printf("error: object missing: %s.%s\n", csum, kind)
		return false
	}
	actual := checksum.OfBytes(data)
	if actual == csum {
		return true
	}
	st.corrupt++
	fmt.Printf("error: ChecksumMismatch: %s.%s claims checksum %s but hashes to %s\n",
		csum, kind, csum, actual)
	if st.delete {
		if err := st.s.DeleteObject(kind, csum); err != nil {
			fmt.Printf("  could not remove: %v\n", err)
		} else {
			fmt.Printf("  removed\n")
		}
	}
	return false
}

func (st *fsckState) walkCommit(csum checksum.Checksum) {
	k := traverse.Key{Checksum: csum, Kind: object.Commit}
	if _, ok := st.visited[k]; ok {
		return
	}
	st.visited[k] = struct{}{}
	if !st.verifyRaw(object.Commit, csum) {
		return
	}
	lm, err := st.s.LoadMetadata(object.Commit, csum)
	if err != nil {
		st.corrupt++
		fmt.Printf("error: decode commit %s: %v\n", csum, err)
		return
	}
	st.walkTree(lm.Commit.Tree, 1)
	st.walkDirMeta(lm.Commit.DirMeta)
}

// walkTree enforces the same depth bound (I4) internal/traverse does,
// reporting RecursionExceeded instead of looping on an over-deep chain.
func (st *fsckState) walkTree(csum checksum.Checksum, depth int) {
	if depth > object.MaxTreeDepth {
		st.corrupt++
		fmt.Printf("error: RecursionExceeded: dirtree %s exceeds depth %d\n", csum, depth)
		return
	}
	k := traverse.Key{Checksum: csum, Kind: object.DirTree}
	if _, ok := st.visited[k]; ok {
		return
	}
	st.visited[k] = struct{}{}
	if !st.verifyRaw(object.DirTree, csum) {
		return
	}
	lm, err := st.s.LoadMetadata(object.DirTree, csum)
	if err != nil {
		st.corrupt++
		fmt.Printf("error: decode dirtree %s: %v\n", csum, err)
		return
	}
	for _, f := range lm.DirTree.Files {
		st.walkFile(f.File)
	}
	for _, d := range lm.DirTree.Dirs {
		st.walkTree(d.Tree, depth+1)
		st.walkDirMeta(d.DirMeta)
	}
}

func (st *fsckState) walkDirMeta(csum checksum.Checksum) {
	k := traverse.Key{Checksum: csum, Kind: object.DirMeta}
	if _, ok := st.visited[k]; ok {
		return
	}
	st.visited[k] = struct{}{}
	st.verifyRaw(object.DirMeta, csum)
}

func (st *fsckState) walkFile(csum checksum.Checksum) {
	k := traverse.Key{Checksum: csum, Kind: object.File}
	if _, ok := st.visited[k]; ok {
		return
	}
	st.visited[k] = struct{}{}
	st.verifyRaw(object.File, csum)
}
