// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Archive records carry their creation time, so anything that stamps a
// record accepts a Clock instead of calling time.Now directly:
//
//	session, err := stream.Open(ctx, store, stream.SessionOptions{
//	    Clock: clock.Fake(time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)),
//	})
package clock
