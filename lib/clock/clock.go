// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the current time. Production code injects Real();
// tests inject Fake() with a time they control.
type Clock interface {
	Now() time.Time
}
