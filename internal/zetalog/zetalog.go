// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package zetalog centralizes logging setup. It owns the one thing the
// teacher never bothered to configure itself — the global logrus
// logger's formatter and level — plus a couple of small helpers that
// build entries carrying (object kind, checksum) or (remote, ref)
// fields off a caller-supplied *logrus.Logger. The pull engine logs
// through the *logrus.Logger in its Options (the global logger by
// default) using these helpers.
package zetalog

import (
	"os"

	"github.com/kranesystems/rfsdb/internal/checksum"
	"github.com/kranesystems/rfsdb/internal/object"
	"github.com/sirupsen/logrus"
)

// Init configures the global logrus logger for CLI use: a plain
// text formatter with no timestamp (the CLI's own output already
// carries enough context) and Info level, or Debug when verbose is
// requested.
func Init(verbose bool) {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// ForObject returns a log entry carrying an object's (kind, checksum)
// off of log, e.g. entries emitted from the pull engine and store.
func ForObject(log *logrus.Logger, kind object.Kind, csum checksum.Checksum) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"kind":     kind.String(),
		"checksum": csum.String(),
	})
}

// ForRemote returns a log entry carrying a pull's remote name and ref.
func ForRemote(log *logrus.Logger, remote, ref string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"remote": remote,
		"ref":    ref,
	})
}
