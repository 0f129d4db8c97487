// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for the nimbstor
// binary. Values are injected with -ldflags:
//
//	go build -ldflags "-X github.com/nimbstor/nimbstor/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not, the module version and VCS revision recorded by
// the Go toolchain are used.
package version
