// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kranesystems/rfsdb/internal/checksum"
)

// ErrInvalidRef is returned when a ref file's contents are not exactly
// 64 hex characters (with an optional trailing newline), per I5.
var ErrInvalidRef = fmt.Errorf("rfsdb: invalid ref contents")

// refPath returns the on-disk path for a heads or remote-tracking ref
// name. name is expected in the form "heads/<name>" or
// "remotes/<remote>/<name>" (§3's refs/heads, refs/remotes layout),
// grounded on fsBackend.readReferenceFile's plain-file read shape, with
// the packed-refs optimization dropped since this layout has no
// packed-refs file.
func refPath(root, name string) string {
	return filepath.Join(root, "refs", filepath.FromSlash(name))
}

// ReadRef reads and validates a ref file, returning its commit
// checksum. A missing ref file returns os.ErrNotExist (checked with
// os.IsNotExist by callers).
func ReadRef(root, name string) (checksum.Checksum, error) {
	data, err := os.ReadFile(refPath(root, name))
	if err != nil {
		return checksum.Zero, err
	}
	line := strings.TrimRight(string(data), "\n")
	csum, err := checksum.Parse(line)
	if err != nil {
		return checksum.Zero, fmt.Errorf("%w: ref %q: %s", ErrInvalidRef, name, err)
	}
	return csum, nil
}

// WriteRefDirect writes a ref file in place without transactional
// staging. Used for initial ref creation outside a pull (e.g. a local
// commit operation); pull-driven ref updates go through a Transaction
// instead (§4.D).
func WriteRefDirect(root, name string, csum checksum.Checksum) error {
	p := refPath(root, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(csum.String()+"\n"), 0644)
}

// stageRefPath is where a transaction stages a ref update before the
// final rename at commit time (§3 Lifecycles: "renaming each
// refs/…/<name> from a staged copy").
func stageRefPath(root, tmpDir, name string) string {
	return filepath.Join(tmpDir, "ref-stage-"+strings.ReplaceAll(name, "/", "_"))
}
