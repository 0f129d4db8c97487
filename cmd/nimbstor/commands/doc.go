// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the nimbstor command tree. Every command that
// touches a repository embeds [repositoryParams], loads the
// configuration, applies its flag overrides and opens a session through
// lib/repository.
package commands
