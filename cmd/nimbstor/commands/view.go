// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/archiveindex"
)

// archiveView is the JSON form of an archive record.
type archiveView struct {
	ID          string   `json:"id"`
	Time        string   `json:"time"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Compression string   `json:"compression"`
	Size        int64    `json:"size"`
	Usage       int64    `json:"usage"`
	BlockSize   int      `json:"block_size"`
	Blocks      int      `json:"blocks"`
	Metainfo    any      `json:"metainfo,omitempty"`
}

func newArchiveView(record *archive.Archive) archiveView {
	return archiveView{
		ID:          record.ID,
		Time:        record.Time().Format(time.RFC3339Nano),
		Description: record.Description,
		Keywords:    record.Keywords,
		Parent:      record.Parent,
		Compression: record.Compression,
		Size:        record.Size,
		Usage:       record.Usage,
		BlockSize:   record.BlockSize,
		Blocks:      len(record.Blocks),
		Metainfo:    record.Metainfo,
	}
}

// archiveRow is the table form of an archive record.
func archiveRow(record *archive.Archive) []string {
	return []string{
		record.ID,
		record.Time().Format(archiveindex.TimestampLayout),
		humanize.IBytes(uint64(record.Size)),
		humanize.IBytes(uint64(record.Usage)),
		record.Description,
	}
}

var archiveHeaders = []string{"ID", "TIME (UTC)", "SIZE", "STORED", "DESCRIPTION"}
