// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestInfoFromLinkerFlags(t *testing.T) {
	defer func(commit, dirty, built string) { GitCommit, GitDirty, BuildTime = commit, dirty, built }(GitCommit, GitDirty, BuildTime)
	GitCommit, GitDirty, BuildTime = "abc1234", "true", "2026-01-02T03:04:05Z"

	if got, want := Info(), Version+" (abc1234-dirty, 2026-01-02T03:04:05Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	if !strings.Contains(Full(), "Go: go") {
		t.Errorf("Full() lacks the Go version: %q", Full())
	}
}

func TestInfoFromBuildInfo(t *testing.T) {
	defer func(original func() (*debug.BuildInfo, bool)) { buildInfo = original }(buildInfo)
	buildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.modified", Value: "false"},
			{Key: "vcs.time", Value: "2026-05-06T07:08:09Z"},
		}}, true
	}
	if got, want := Info(), Version+" (0123456789ab, 2026-05-06T07:08:09Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
}
