package storage

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Archiver copies uploads to an ObjectStore in the background so a slow
// store never holds up a response.
type Archiver struct {
	store   ObjectStore
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewArchiver(store ObjectStore, timeout time.Duration) *Archiver {
	return &Archiver{store: store, timeout: timeout}
}

// Archive schedules data to be stored under a unique key ending in the
// base name of filename and returns immediately. The write keeps ctx's
// values but not its cancellation, and is bounded by the archiver timeout.
func (a *Archiver) Archive(ctx context.Context, filename string, data []byte) {
	key := uuid.New().String() + "_" + filepath.Base(filename)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		stored, err := a.store.PutObject(ctx, key, bytes.NewReader(data))
		if err != nil {
			slog.Warn("failed to archive upload", "filename", filename, "error", err)
			return
		}
		slog.Info("archived upload", "filename", filename, "location", stored)
	}()
}

// Wait blocks until every scheduled write has finished.
func (a *Archiver) Wait() {
	a.wg.Wait()
}
