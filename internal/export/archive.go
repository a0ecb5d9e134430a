package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/souqnear/ranking-service/internal/storage"
)

// exportsPrefix is the archive prefix every export key starts with.
const exportsPrefix = "exports/"

// List returns the archived exports, oldest day first. An empty
// referencePointID lists every reference point.
func (e *Exporter) List(ctx context.Context, referencePointID string) ([]*storage.FileInfo, error) {
	keys, err := e.archive.List(ctx, exportsPrefix)
	if err != nil {
		return nil, err
	}

	infos := make([]*storage.FileInfo, 0, len(keys))
	for _, key := range keys {
		if referencePointID != "" && keyReferencePoint(key) != referencePointID {
			continue
		}
		info, err := e.archive.GetInfo(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to stat export %s: %w", key, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Fetch reads an export and verifies it against its stored checksum.
func (e *Exporter) Fetch(ctx context.Context, key string) ([]byte, *storage.FileInfo, error) {
	ok, err := e.archive.Exists(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("export %s: %w", key, storage.ErrNotExist)
	}

	info, err := e.archive.GetInfo(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	content, err := e.archive.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if sum := storage.ComputeChecksum(content); sum != info.Checksum {
		return nil, nil, fmt.Errorf("export %s changed while reading (checksum %s, want %s)", key, sum, info.Checksum)
	}
	return content, info, nil
}

// Prune deletes exports generated more than olderThan ago and returns the
// deleted keys. With dryRun set nothing is removed.
func (e *Exporter) Prune(ctx context.Context, olderThan time.Duration, dryRun bool) ([]string, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("older-than must be positive, got %s", olderThan)
	}
	infos, err := e.List(ctx, "")
	if err != nil {
		return nil, err
	}

	cutoff := e.now().Add(-olderThan)
	pruned := []string{}
	for _, info := range infos {
		if !generatedAt(info).Before(cutoff) {
			continue
		}
		if !dryRun {
			if err := e.archive.Delete(ctx, info.Key); err != nil {
				return pruned, fmt.Errorf("failed to delete export %s: %w", info.Key, err)
			}
		}
		pruned = append(pruned, info.Key)
	}

	e.logger.Info().
		Dur("older_than", olderThan).
		Int("pruned", len(pruned)).
		Bool("dry_run", dryRun).
		Msg("Exports pruned")
	return pruned, nil
}

// generatedAt prefers the recorded generation time over the file's mtime.
func generatedAt(info *storage.FileInfo) time.Time {
	if info.Metadata != nil && !info.Metadata.GeneratedAt.IsZero() {
		return info.Metadata.GeneratedAt
	}
	return info.ModifiedAt
}

// keyReferencePoint extracts rp from exports/<day>/<rp>/<file>.
func keyReferencePoint(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return ""
	}
	return parts[2]
}
