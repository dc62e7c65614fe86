// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kranesystems/rfsdb/internal/checksum"
)

const lockFileName = ".lock"

// ErrResourceLocked is returned by PrepareTransaction when another
// process already holds tmp/.lock.
//
// Grounded on modules/zeta/refs/filesystem.go's lockPackedRefs, which
// uses the same O_CREATE|O_EXCL exclusive-create-as-lock idiom; this
// lock lives under tmp/ instead of alongside packed-refs since this
// layout has no packed-refs file.
var ErrResourceLocked = fmt.Errorf("rfsdb: tmp/.lock is held by another process")

// Transaction brackets a batch of writes (pull, delta apply) with a
// staged ref set that commits atomically per ref (§4.D).
type Transaction struct {
	repo     *Repository
	lockPath string
	lockFile *os.File
	refs     map[string]checksum.Checksum
	resuming bool
	done     bool
}

// PrepareTransaction acquires the exclusive tmp/.lock and reports
// whether leftover state from a prior, uncommitted transaction exists
// (detected by finding staged ref files already present in tmp/). When
// resuming, callers (the pull engine) should promote already-stored
// objects to "scanned" so recursion can resume from them.
func (r *Repository) PrepareTransaction() (*Transaction, error) {
	lockPath := filepath.Join(r.TmpDir(), lockFileName)
	if err := os.MkdirAll(r.TmpDir(), 0755); err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrResourceLocked
		}
		return nil, err
	}

	resuming, err := hasStagedRefs(r.TmpDir())
	if err != nil {
		_ = fd.Close()
		_ = os.Remove(lockPath)
		return nil, err
	}

	return &Transaction{
		repo:     r,
		lockPath: lockPath,
		lockFile: fd,
		refs:     map[string]checksum.Checksum{},
		resuming: resuming,
	}, nil
}

// Resuming reports whether leftover state from a prior run was found.
func (t *Transaction) Resuming() bool { return t.resuming }

// StageRef records a ref update to be applied atomically at commit
// time (§4.D "staged ref updates accumulate in txn_refs").
func (t *Transaction) StageRef(name string, csum checksum.Checksum) error {
	p := stageRefPath(t.repo.root, t.repo.TmpDir(), name)
	if err := os.WriteFile(p, []byte(csum.String()+"\n"), 0644); err != nil {
		return err
	}
	t.refs[name] = csum
	return nil
}

// StagedRef returns a previously staged value for name, if any.
func (t *Transaction) StagedRef(name string) (checksum.Checksum, bool) {
	c, ok := t.refs[name]
	return c, ok
}

// Commit renames each staged ref into refs/… atomically and releases
// the lock (§4.D commit_transaction).
func (t *Transaction) Commit() error {
	if t.done {
		return fmt.Errorf("rfsdb: transaction already finished")
	}
	for name, csum := range t.refs {
		dst := refPath(t.repo.root, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return t.abortWithErr(err)
		}
		staged := stageRefPath(t.repo.root, t.repo.TmpDir(), name)
		if err := os.WriteFile(staged, []byte(csum.String()+"\n"), 0644); err != nil {
			return t.abortWithErr(err)
		}
		if err := os.Rename(staged, dst); err != nil {
			return t.abortWithErr(err)
		}
	}
	return t.finish()
}

// Abort discards the staged ref set and releases the lock. No global
// rollback of already-written objects is attempted; they are
// recoverable by an external prune pass (§4.D abort_transaction).
func (t *Transaction) Abort() error {
	if t.done {
		return nil
	}
	for name := range t.refs {
		_ = os.Remove(stageRefPath(t.repo.root, t.repo.TmpDir(), name))
	}
	return t.finish()
}

func (t *Transaction) abortWithErr(cause error) error {
	_ = t.Abort()
	return cause
}

func (t *Transaction) finish() error {
	t.done = true
	_ = t.lockFile.Close()
	return os.Remove(t.lockPath)
}

// hasStagedRefs reports whether tmp/ contains leftover ref-stage files
// from a transaction that never committed or aborted cleanly (e.g. the
// process was killed holding the lock).
func hasStagedRefs(tmpDir string) (bool, error) {
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len("ref-stage-") && e.Name()[:len("ref-stage-")] == "ref-stage-" {
			return true, nil
		}
	}
	return false, nil
}
