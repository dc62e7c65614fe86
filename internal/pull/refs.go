// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/store"
	"github.com/kranesystems/rfsdb/internal/transport"
	"github.com/kranesystems/rfsdb/internal/zetalog"
	"gopkg.in/ini.v1"
)

// phase1 performs §4.F's "Phase 1 — refs": validate the remote's mode,
// then resolve every requested ref name (or raw commit hex) to a
// to_revision.
func (e *Engine) phase1(ctx context.Context, refs []string) ([]*refPull, error) {
	if err := e.validateRemoteMode(ctx); err != nil {
		return nil, wrapPhase("fetching remote config", e.remoteCfg.URL, err)
	}

	out := make([]*refPull, 0, len(refs))
	for _, ref := range refs {
		if checksum.Valid(ref) {
			to, err := checksum.Parse(ref)
			if err != nil {
				return nil, err
			}
			out = append(out, &refPull{name: "", toRevision: objKey{Checksum: to}})
			continue
		}
		to, err := e.resolveRemoteRef(ctx, ref)
		if err != nil {
			return nil, wrapPhase("resolving ref", ref, err)
		}
		zetalog.ForRemote(e.opts.Log, e.remote, ref).WithField("to", to).Debug("resolved remote ref")
		out = append(out, &refPull{name: ref, toRevision: objKey{Checksum: to}})
	}
	return out, nil
}

// validateRemoteMode fetches the remote's config file and rejects
// anything but archive-z2 (§4.F "remote repo mode (must equal
// archive)"; the bare literal "archive" is the deprecated mode
// store.ParseMode rejects everywhere else in this codebase, so this is
// read as requiring store.ArchiveZ2 specifically).
func (e *Engine) validateRemoteMode(ctx context.Context) error {
	rc, err := e.fetcher.StreamURI(ctx, "config")
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	f, err := ini.Load(data)
	if err != nil {
		return fmt.Errorf("rfsdb: parse remote config: %w", err)
	}
	modeStr := f.Section("core").Key("mode").MustString("")
	mode, err := store.ParseMode(modeStr)
	if err != nil {
		return err
	}
	if mode != store.ArchiveZ2 {
		return ErrRemoteModeUnsupported
	}
	return nil
}

// resolveRemoteRef fetches refs/heads/<ref> and validates its contents
// as a commit checksum.
func (e *Engine) resolveRemoteRef(ctx context.Context, ref string) (checksum.Checksum, error) {
	rc, err := e.fetcher.StreamURI(ctx, refHeadsURI(ref))
	if err != nil {
		if err == transport.ErrNotFound {
			return checksum.Zero, fmt.Errorf("rfsdb: %w: remote ref %q", transport.ErrNotFound, ref)
		}
		return checksum.Zero, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return checksum.Zero, err
	}
	line := strings.TrimRight(string(data), " \t\r\n")
	return checksum.Parse(line)
}
