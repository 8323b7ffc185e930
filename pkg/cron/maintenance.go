package cron

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"shadowrealms_backend/pkg/backup"
	"shadowrealms_backend/pkg/logging"
	"shadowrealms_backend/pkg/storage"
)

type Reconciler interface {
	Reconcile(ctx context.Context) (storage.ReconcileResult, error)
}

// ReconcileJob replays writes parked in the secondary store.
func ReconcileJob(r Reconciler) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := r.Reconcile(ctx)
		return err
	}
}

type Exporter interface {
	ExportCSV(ctx context.Context, w io.Writer) (int, error)
}

type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
}

// BackupJob uploads a CSV snapshot of the active subscribers.
func BackupJob(exporter Exporter, uploader Uploader, gameName string, now func() time.Time) func(ctx context.Context) error {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		var buf bytes.Buffer
		rows, err := exporter.ExportCSV(ctx, &buf)
		if err != nil {
			return fmt.Errorf("export snapshot: %w", err)
		}

		key := backup.SnapshotKey(gameName, now(), ".csv")
		if err := uploader.Upload(ctx, key, "text/csv", bytes.NewReader(buf.Bytes())); err != nil {
			return err
		}

		logging.Module("cron").Info().Str("key", key).Int("rows", rows).Msg("Snapshot uploaded")
		return nil
	}
}
