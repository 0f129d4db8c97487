// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archivefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/dedup"
)

// Repository is the read side of an open session.
type Repository interface {
	Index() *dedup.Index
	LoadRecord(ctx context.Context, id string) (*archive.Archive, error)
	ReadBlock(ctx context.Context, block archive.Block) ([]byte, error)
}

// Options configures the mount.
type Options struct {
	// Mountpoint is created if it does not exist.
	Mountpoint string

	Repository Repository

	// AllowOther permits other users to read the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives read failures. Nil discards.
	Logger *slog.Logger
}

// Mount mounts the repository read-only. The caller must Unmount the
// returned server, and keep the repository open until then.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if options.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	root := &rootNode{options: &options}
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "nimbstor",
			Name:       "nimbstor",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}
	options.Logger.Info("repository mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// rootNode lists every committed archive.
type rootNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeLookuper = (*rootNode)(nil)
var _ gofuse.NodeReaddirer = (*rootNode)(nil)

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if !r.options.Repository.Index().HasArchive(name) {
		return nil, syscall.ENOENT
	}
	record, err := r.options.Repository.LoadRecord(ctx, name)
	if err != nil {
		r.options.Logger.Error("loading archive record failed", "archive", name, "error", err)
		return nil, syscall.EIO
	}

	node := &archiveNode{options: r.options, record: record}
	node.fill(&out.Attr)
	child := r.NewPersistentInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG})
	return child, 0
}

func (r *rootNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	ids := r.options.Repository.Index().Archives()
	entries := make([]fuse.DirEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, fuse.DirEntry{Name: id, Mode: syscall.S_IFREG})
	}
	return gofuse.NewListDirStream(entries), 0
}

// archiveNode is one archive as a read-only regular file.
type archiveNode struct {
	gofuse.Inode
	options *Options
	record  *archive.Archive

	// mu guards reader, built on first open.
	mu     sync.Mutex
	reader *blockReader
}

var _ gofuse.InodeEmbedder = (*archiveNode)(nil)
var _ gofuse.NodeGetattrer = (*archiveNode)(nil)
var _ gofuse.NodeOpener = (*archiveNode)(nil)
var _ gofuse.NodeReader = (*archiveNode)(nil)

func (a *archiveNode) fill(out *fuse.Attr) {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(a.record.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = uint32(min(max(a.record.BlockSize, 512), 1<<20))
	mtime := a.record.Time()
	out.SetTimes(nil, &mtime, &mtime)
}

func (a *archiveNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a.fill(&out.Attr)
	return 0
}

func (a *archiveNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	if _, err := a.blockReader(); err != nil {
		a.options.Logger.Error("building block table failed", "archive", a.record.ID, "error", err)
		return nil, 0, syscall.EIO
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (a *archiveNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	reader, err := a.blockReader()
	if err != nil {
		return nil, syscall.EIO
	}
	n, err := reader.readAt(ctx, dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		a.options.Logger.Error("read failed", "archive", a.record.ID, "offset", off, "error", err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (a *archiveNode) blockReader() (*blockReader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader != nil {
		return a.reader, nil
	}
	table, err := buildBlockTable(a.record)
	if err != nil {
		return nil, err
	}
	a.reader = newBlockReader(table, a.record.Size, a.options.Repository)
	return a.reader, nil
}
