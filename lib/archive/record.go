// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// recordEncMode uses Core Deterministic Encoding so the same record
// always serializes to the same bytes, and therefore the same id.
var recordEncMode cbor.EncMode

// recordDecMode decodes metainfo maps as map[string]any so they can be
// rendered as JSON by search and the CLI.
var recordDecMode cbor.DecMode

func init() {
	var err error
	recordEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
	recordDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
}

// MarshalRecord serializes a metadata record. A zero Version is
// filled in with [RecordVersion].
func MarshalRecord(record *Archive) ([]byte, error) {
	if record.Version == 0 {
		record.Version = RecordVersion
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive record: %w", err)
	}
	data, err := recordEncMode.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding archive record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord decodes and validates a metadata record. The
// returned record's ID is left empty; the caller knows it.
func UnmarshalRecord(data []byte) (*Archive, error) {
	var record Archive
	if err := recordDecMode.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding archive record: %w", err)
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive record: %w", err)
	}
	return &record, nil
}
