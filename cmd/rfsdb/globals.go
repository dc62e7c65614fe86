// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Globals holds the flags every subcommand shares, grounded on
// antgroup-hugescm's pkg/command.Globals (cwd/verbose pair shared
// across every zeta subcommand).
type Globals struct {
	CWD        string `name:"cwd" help:"Path to the repository" default:"."`
	Verbose    bool   `short:"V" name:"verbose" help:"Make the operation more talkative"`
	Quiet      bool   `short:"q" name:"quiet" help:"Suppress progress output"`
	GPGHomedir string `name:"gpg-homedir" help:"Directory to search for GPG keys (signing keys for static-delta generate, the verify keyring for pull)"`

	Log *logrus.Logger `kong:"-"`
}

// ErrExitCode carries a specific process exit code out of a subcommand,
// the same shape as antgroup-hugescm's pkg/zeta.ErrExitCode.
type ErrExitCode struct {
	ExitCode int
	Message  string
}

func (e *ErrExitCode) Error() string { return e.Message }

func usageError(format string, a ...any) error {
	return &ErrExitCode{ExitCode: 2, Message: fmt.Sprintf(format, a...)}
}

func failureError(format string, a ...any) error {
	return &ErrExitCode{ExitCode: 1, Message: fmt.Sprintf(format, a...)}
}

func warn(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", a...)
}

func logger() *logrus.Logger {
	return logrus.StandardLogger()
}
