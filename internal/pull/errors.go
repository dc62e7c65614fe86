// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package pull

import "fmt"

// ErrCancelled is surfaced when ctx is cancelled mid-pull (§5
// "Cancellation"): in-flight callbacks still fire but carry this error,
// and the engine's error slot latches on the first one.
var ErrCancelled = fmt.Errorf("rfsdb: pull cancelled")

// ErrRemoteModeUnsupported is returned during Phase 1 when the remote's
// config reports a core.mode other than archive-z2. §4.F requires the
// remote mode to "equal archive"; the literal "archive" string is the
// deprecated, rejected mode everywhere else in this codebase (I3), so
// this is read as requiring archive-z2 specifically.
var ErrRemoteModeUnsupported = fmt.Errorf("rfsdb: remote repository mode must be archive-z2")

// wrapPhase prefixes err with the phase description the outer pull call
// returns to the user (§7 "a prefix identifying the phase").
func wrapPhase(phase, detail string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("rfsdb: while %s '%s': %w", phase, detail, err)
}
