package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hirewire/app/service/conversation"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/samber/oops"
)

const lockRetryDelay = 5 * time.Millisecond

var _ conversation.Store = (*File)(nil)

// File stores one JSON document per conversation in a directory.
// Writes go through a temp file and a rename, so readers never see a partial record.
// Saves hold a lock file per conversation, so several processes may share the directory.
type File struct {
	dir string
	mu  sync.RWMutex
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, oops.In("store").With("dir", dir).Wrapf(err, "failed to create store directory")
	}

	return &File{dir: dir}, nil
}

func (f *File) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *File) Load(ctx context.Context, id string) (*conversation.Conversation, error) {
	if err := conversation.ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.read(id)
}

func (f *File) read(id string) (*conversation.Conversation, error) {
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, oops.In("store").With("conversation_id", id).Wrapf(err, "failed to read conversation file")
	}

	return decode(id, data)
}

func (f *File) Save(ctx context.Context, conv *conversation.Conversation, expectedVersion int64) error {
	if err := conversation.ValidateID(conv.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := f.lock(ctx, conv.ID)
	if err != nil {
		return err
	}
	defer unlock()

	var current int64
	stored, err := f.read(conv.ID)
	switch {
	case err == nil:
		current = stored.Version
	case errors.Is(err, conversation.ErrNotFound):
	default:
		return err
	}

	if current != expectedVersion {
		return conflict(conv.ID, expectedVersion, current)
	}

	next := *conv
	next.Version = expectedVersion + 1

	data, err := encode(&next)
	if err != nil {
		return err
	}

	if err = f.write(conv.ID, data); err != nil {
		return oops.In("store").With("conversation_id", conv.ID).Wrapf(err, "failed to write conversation file")
	}

	conv.Version = next.Version

	return nil
}

// lock takes an exclusive OS-level lock on <id>.lock, so the version check and the rename
// are atomic across processes sharing the directory.
func (f *File) lock(ctx context.Context, id string) (func(), error) {
	fileLock := flock.New(filepath.Join(f.dir, id+".lock"))

	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, oops.In("store").With("conversation_id", id).Wrapf(err, "failed to lock conversation file")
	}
	if !locked {
		return nil, oops.In("store").With("conversation_id", id).Errorf("failed to lock conversation file")
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn("Failed to unlock conversation file", "conversation_id", id, "error", err)
		}
	}, nil
}

func (f *File) write(id string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := bufio.NewWriter(tmp)
	if _, err = writer.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err = writer.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	return os.Rename(tmp.Name(), f.path(id))
}
