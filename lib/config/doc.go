// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the nimbstor configuration file.
//
// The file is YAML. Its path comes from the NIMBSTOR_CONFIG environment
// variable or the --config flag, and defaults to
// $XDG_CONFIG_HOME/nimbstor/config.yaml. A missing file at the default
// location is not an error: the defaults apply.
//
// After the file is read, a fixed set of NIMBSTOR_* environment
// variables override individual fields, and ${VAR} / ${VAR:-default}
// references in path fields are expanded.
package config
