// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/kranesystems/rfsdb/internal/gpgsign"
	"github.com/kranesystems/rfsdb/internal/httpfetch"
	"github.com/kranesystems/rfsdb/internal/pull"
	"github.com/kranesystems/rfsdb/internal/repo"
)

// Pull fetches refs from a configured remote, per §6's "pull <remote>
// [<ref>...]" interface.
//
// Grounded on antgroup-hugescm's pkg/command.Pull (open repo, build
// options, run, report), narrowed to this spec's single remote-name-plus-
// ref-list argument shape since there is no fast-forward/rebase/squash
// concept at this layer.
type Pull struct {
	Remote string   `arg:"" help:"Remote name, as configured in repo/config"`
	Refs   []string `arg:"" optional:"" help:"Refs to pull; defaults to the remote's configured branches"`
}

func (c *Pull) Run(g *Globals) error {
	r, err := repo.Open(g.CWD)
	if err != nil {
		return usageError("open repository: %v", err)
	}
	defer r.Close() // nolint

	rc, ok := r.Config().Remotes[c.Remote]
	if !ok {
		return usageError("unknown remote %q", c.Remote)
	}

	refs := c.Refs
	if len(refs) == 0 {
		refs = rc.Branches
	}
	if len(refs) == 0 {
		return usageError("no refs given and remote %q has no configured branches", c.Remote)
	}

	var keyring openpgp.EntityList
	if rc.GPGVerify {
		if g.GPGHomedir == "" {
			return usageError("remote %q requires gpg-verify but no --gpg-homedir was given", c.Remote)
		}
		var err error
		keyring, err = gpgsign.LoadKeyring(g.GPGHomedir)
		if err != nil {
			return usageError("load gpg keyring: %v", err)
		}
	}

	fetcher, err := httpfetch.New(rc.URL, rc.TLSPermissive)
	if err != nil {
		return usageError("remote %q: %v", c.Remote, err)
	}

	res, err := pull.Pull(context.Background(), r, fetcher, c.Remote, refs, pull.Options{
		Keyring: keyring,
		Quiet:   g.Quiet,
		Log:     g.Log,
	})
	if err != nil {
		return failureError("pull: %v", err)
	}

	if !g.Quiet {
		fmt.Printf("pulled %d ref(s): ", len(res.UpdatedRefs))
		names := make([]string, 0, len(res.UpdatedRefs))
		for name := range res.UpdatedRefs {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			if i > 0 {
				fmt.Print(", ")
			}
			fmt.Printf("%s=%s", name, res.UpdatedRefs[name])
		}
		fmt.Println()
		fmt.Printf("metadata fetched: %d, content fetched: %d, bytes transferred: %d\n",
			res.FetchedMetadata, res.FetchedContent, res.BytesTransferred)
		if g.Verbose {
			for _, key := range pull.SortedKeys(res.Metrics) {
				fmt.Printf("  %s = %g\n", key, res.Metrics[key])
			}
		}
	}
	return nil
}
