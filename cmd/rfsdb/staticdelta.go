// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/delta"
	"github.com/kranesystems/rfsdb/internal/delta/apply"
	"github.com/kranesystems/rfsdb/internal/delta/generate"
	"github.com/kranesystems/rfsdb/internal/gpgsign"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/kranesystems/rfsdb/internal/repo"
)

// StaticDelta groups the three static-delta subcommands named in §6.
type StaticDelta struct {
	List     StaticDeltaList     `cmd:"list" help:"List locally staged deltas"`
	Apply    StaticDeltaApply    `cmd:"apply" help:"Apply a static delta from a directory"`
	Generate StaticDeltaGenerate `cmd:"generate" help:"Generate a static delta between two commits"`
}

// StaticDeltaList enumerates deltas/<from>/<to> directories and prints
// each superblock's summary, grounded on hugescm's pack.NewScanner /
// Names() listing idiom in modules/zeta/backend/pack-objects.go.
type StaticDeltaList struct{}

func (c *StaticDeltaList) Run(g *Globals) error {
	r, err := repo.Open(g.CWD)
	if err != nil {
		return usageError("open repository: %v", err)
	}
	defer r.Close() // nolint

	deltasRoot := filepath.Join(r.Root(), "deltas")
	fromDirs, err := os.ReadDir(deltasRoot)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no deltas staged")
			return nil
		}
		return failureError("list deltas: %v", err)
	}
	for _, fromDir := range fromDirs {
		if !fromDir.IsDir() {
			continue
		}
		toDirs, err := os.ReadDir(filepath.Join(deltasRoot, fromDir.Name()))
		if err != nil {
			return failureError("list deltas: %v", err)
		}
		for _, toDir := range toDirs {
			if !toDir.IsDir() {
				continue
			}
			metaPath := filepath.Join(deltasRoot, fromDir.Name(), toDir.Name(), "meta")
			f, err := os.Open(metaPath)
			if err != nil {
				warn("skip %s/%s: %v", fromDir.Name(), toDir.Name(), err)
				continue
			}
			sb, err := delta.ReadSuperblock(f)
			_ = f.Close()
			if err != nil {
				warn("skip %s/%s: %v", fromDir.Name(), toDir.Name(), err)
				continue
			}
			var objCount int
			for _, p := range sb.Parts {
				objCount += len(p.Objects)
			}
			fmt.Printf("%s -> %s: %d part(s), %d object(s), %d fallback\n",
				fromDir.Name(), toDir.Name(), len(sb.Parts), objCount, len(sb.Fallback))
		}
	}
	return nil
}

// StaticDeltaApply replays a directory's superblock and parts into the
// local store, offline (§4.I).
type StaticDeltaApply struct {
	Apply          string `name:"apply" required:"" help:"Directory containing meta and numbered part files"`
	SkipValidation bool   `name:"skip-validation" help:"Skip part checksum verification"`
}

func (c *StaticDeltaApply) Run(g *Globals) error {
	r, err := repo.Open(g.CWD)
	if err != nil {
		return usageError("open repository: %v", err)
	}
	defer r.Close() // nolint

	res, err := apply.Apply(r.Store(), c.Apply, apply.Options{SkipValidation: c.SkipValidation})
	if err != nil {
		return failureError("apply delta: %v", err)
	}
	if !g.Quiet {
		fmt.Printf("applied %d part(s), skipped %d, wrote %d object(s)\n",
			res.PartsApplied, res.PartsSkipped, res.ObjectsWritten)
	}
	return nil
}

// StaticDeltaGenerate diffs two commits and writes the resulting
// superblock and parts under deltas/<from>/<to> (§4.H), optionally
// GPG-signing the superblock's detached metadata blob (§4.J).
type StaticDeltaGenerate struct {
	From       string   `name:"from" required:"" help:"Source commit revision (an all-zero checksum means from scratch)"`
	To         string   `name:"to" required:"" help:"Target commit revision"`
	MaxUsizeMB uint64   `name:"max-usize" help:"Part-size and fallback-size bound, in megabytes"`
	GPGSign    []string `name:"gpg-sign" help:"Sign the delta with these key IDs, found under the shared --gpg-homedir"`
}

func (c *StaticDeltaGenerate) Run(g *Globals) error {
	r, err := repo.Open(g.CWD)
	if err != nil {
		return usageError("open repository: %v", err)
	}
	defer r.Close() // nolint

	from, err := resolveRevision(r, c.From)
	if err != nil {
		return usageError("resolve --from %q: %v", c.From, err)
	}
	to, err := resolveRevision(r, c.To)
	if err != nil {
		return usageError("resolve --to %q: %v", c.To, err)
	}

	opts := generate.Options{}
	if c.MaxUsizeMB > 0 {
		opts.MaxUsizeBytes = c.MaxUsizeMB << 20
	}

	res, err := generate.Generate(r, from, to, opts)
	if err != nil {
		return failureError("generate delta: %v", err)
	}

	if len(c.GPGSign) > 0 {
		if err := signDelta(r, from, to, c.GPGSign, g.GPGHomedir); err != nil {
			return failureError("sign delta: %v", err)
		}
	}

	if !g.Quiet {
		fmt.Printf("wrote %d part(s), %d new object(s), %d fallback\n",
			res.PartsWritten, res.NewObjectCount, res.FallbackCount)
	}
	return nil
}

// resolveRevision accepts either a 64-char hex checksum or a
// heads/<name> ref, the same dual convention pull.go's refs.go uses for
// raw-hex pull targets.
func resolveRevision(r *repo.Repository, rev string) (checksum.Checksum, error) {
	if checksum.Valid(rev) {
		return checksum.Parse(rev)
	}
	rv, err := r.ResolveRef("heads/" + rev)
	if err != nil {
		return checksum.Zero, err
	}
	if rv == nil {
		return checksum.Zero, fmt.Errorf("no such ref %q", rev)
	}
	return rv.Checksum, nil
}

// signDelta reads back the superblock Generate just wrote, signs its
// canonical bytes with every key named in keyIDs, and writes the
// accumulated signatures to deltas/<from>/<to>/.commitmeta.
func signDelta(r *repo.Repository, from, to checksum.Checksum, keyIDs []string, homedir string) error {
	if homedir == "" {
		return fmt.Errorf("--gpg-homedir is required with --gpg-sign")
	}
	dir := r.DeltaDir(from.String(), to.String())
	data, err := os.ReadFile(filepath.Join(dir, "meta"))
	if err != nil {
		return err
	}

	meta := object.Metadata{}
	for _, keyID := range keyIDs {
		signer, err := findSigningKey(homedir, keyID)
		if err != nil {
			return fmt.Errorf("key %q: %w", keyID, err)
		}
		meta, err = gpgsign.SignAndAppend(meta, data, signer)
		if err != nil {
			return fmt.Errorf("key %q: sign: %w", keyID, err)
		}
	}

	out, err := os.Create(filepath.Join(dir, ".commitmeta"))
	if err != nil {
		return err
	}
	defer out.Close() // nolint
	return gpgsign.WriteDetachedMetadata(out, meta)
}

// findSigningKey searches homedir for an armored private key file whose
// entity matches keyID, trying each candidate file in turn since
// gpgsign.LoadSigningKey takes a single file rather than a homedir.
func findSigningKey(homedir, keyID string) (*openpgp.Entity, error) {
	entries, err := os.ReadDir(homedir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		signer, err := gpgsign.LoadSigningKey(filepath.Join(homedir, e.Name()), keyID, nil)
		if err == nil {
			return signer, nil
		}
	}
	return nil, fmt.Errorf("no decryptable signing key found under %s", homedir)
}
