// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitebackend

import "log/slog"

func slogDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
