// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Command rfsdb is the collaborator CLI front-end (§6) over the three
// subsystems this module implements: fsck over the loose-object store,
// the static-delta generator/applier, and the pull engine.
//
// Grounded on antgroup-hugescm's cmd/zeta/main.go: one App struct with
// a field per subcommand, kong.Parse, and an *ErrExitCode unwrap on the
// way out to pick the process exit code.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/kranesystems/rfsdb/internal/zetalog"
)

// App is the root of the CLI's subcommand tree.
type App struct {
	Globals

	Fsck        Fsck        `cmd:"fsck" help:"Verify loose-object checksums"`
	StaticDelta StaticDelta `cmd:"static-delta" help:"Inspect, apply, or generate static deltas"`
	Pull        Pull        `cmd:"pull" help:"Fetch refs from a remote"`
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("rfsdb"),
		kong.Description("a content-addressed filesystem-tree object store"),
		kong.UsageOnError(),
	)

	zetalog.Init(app.Verbose)
	app.Log = logger()

	err := ctx.Run(&app.Globals)
	if err == nil {
		return
	}
	if e, ok := err.(*ErrExitCode); ok {
		fmt.Fprintln(os.Stderr, "rfsdb:", e.Message)
		os.Exit(e.ExitCode)
	}
	fmt.Fprintln(os.Stderr, "rfsdb:", err)
	os.Exit(1)
}
