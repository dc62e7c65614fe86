// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package repo implements the repository handle (§4.D): config
// loading, directory layout, the parent-repo chain, and the
// transaction lifecycle that brackets pull and delta-apply writes.
//
// Grounded on modules/zeta/backend/odb.go (directory layout caching,
// Option-style construction) and modules/zeta/refs/filesystem.go (plain
// ref-file read/write) from antgroup/hugescm, with config parsing
// adapted from Nivl-git-go's gopkg.in/ini.v1 usage.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/store"
)

// Repository is an open handle on a repository directory: its parsed
// config, its loose-object store (with parent chain wired in), and the
// paths it needs for transactions and remote caching.
type Repository struct {
	root    string
	config  *Config
	store   *store.Store
	parent  *Repository
}

// subdirectories of the repo root, per §3's on-disk layout.
const (
	dirObjects              = "objects"
	dirTmp                  = "tmp"
	dirRemoteCache          = "remote-cache"
	dirDeltas               = "deltas"
	dirUncompressedObjCache = "uncompressed-objects-cache"
)

// Open opens an existing repository at root, validating
// core.repo_version and rejecting the deprecated "archive" mode
// (surfaced as store.ErrDeprecatedMode via LoadConfig/store.ParseMode).
func Open(root string) (*Repository, error) {
	cfg, err := LoadConfig(root)
	if err != nil {
		return nil, err
	}
	r := &Repository{root: root, config: cfg}

	var opts []store.Option
	if cfg.Parent != "" {
		parent, err := Open(cfg.Parent)
		if err != nil {
			return nil, fmt.Errorf("rfsdb: open parent repo %q: %w", cfg.Parent, err)
		}
		r.parent = parent
		opts = append(opts, store.WithParent(parent.store))
	}
	opts = append(opts, store.WithMetadataCache(true))

	st, err := store.New(filepath.Join(root, dirObjects), cfg.Mode, opts...)
	if err != nil {
		return nil, err
	}
	r.store = st

	if cfg.Mode == store.ArchiveZ2 && cfg.EnableUncompressedCache {
		if err := os.MkdirAll(filepath.Join(root, dirUncompressedObjCache), 0755); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Create initializes a fresh, empty repository at root: the minimal
// config plus the directory skeleton (§4.D "create writes a minimal
// config and the directory skeleton").
func Create(root string, mode store.Mode) (*Repository, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	if err := WriteDefaultConfig(root, mode); err != nil {
		return nil, err
	}
	for _, d := range []string{dirObjects, dirTmp, dirRemoteCache, dirDeltas, "refs/heads", "refs/remotes"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			return nil, err
		}
	}
	return Open(root)
}

func (r *Repository) Root() string        { return r.root }
func (r *Repository) Config() *Config     { return r.config }
func (r *Repository) Store() *store.Store { return r.store }

func (r *Repository) TmpDir() string { return filepath.Join(r.root, dirTmp) }

func (r *Repository) RemoteCacheDir(remote string) string {
	return filepath.Join(r.root, dirRemoteCache, remote)
}

func (r *Repository) DeltaDir(from, to string) string {
	return filepath.Join(r.root, dirDeltas, from, to)
}

// ResolveRef reads a heads or remote-tracking ref. name is e.g.
// "heads/master" or "remotes/origin/master".
func (r *Repository) ResolveRef(name string) (*RefValue, error) {
	csum, err := ReadRef(r.root, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &RefValue{Name: name, Checksum: csum}, nil
}

// RefValue is a resolved ref.
type RefValue struct {
	Name     string
	Checksum checksum.Checksum
}

func (r *Repository) Close() error {
	return r.store.Close()
}
