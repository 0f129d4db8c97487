// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for nimbstor.
//
// The central type is [Command]: a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory and a Run
// function. [Command.Execute] handles flag parsing, subcommand routing
// and help output. Unknown subcommands and flags get an edit-distance
// suggestion.
//
// Parameter structs declare their flags with struct tags and are bound
// by [FlagsFromParams]. Output helpers render tables with lipgloss and
// highlight JSON with chroma when stdout is a terminal, and fall back
// to plain text otherwise.
package cli
