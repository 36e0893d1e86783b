package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// MigrateMode selects how Migrate treats existing destination entries.
type MigrateMode string

const (
	// MigrateMerge adds source entries to the destination.
	MigrateMerge MigrateMode = "merge"

	// MigrateOverwrite clears the destination first.
	MigrateOverwrite MigrateMode = "overwrite"
)

// Diff compares the artists of two registries.
type Diff struct {
	OnlyInA []string `json:"only_in_a"`
	OnlyInB []string `json:"only_in_b"`
	Common  []string `json:"common"`

	// ArtworkMismatches counts artworks of common artists present on one side only.
	ArtworkMismatches int `json:"artwork_mismatches"`
}

// Equal reports whether both sides hold the same artists and artworks.
func (d *Diff) Equal() bool {
	return len(d.OnlyInA) == 0 && len(d.OnlyInB) == 0 && d.ArtworkMismatches == 0
}

// MigrateResult describes a completed migration.
type MigrateResult struct {
	From     string       `json:"from"`
	To       string       `json:"to"`
	Mode     MigrateMode  `json:"mode"`
	Backup   string       `json:"backup"`
	Imported ImportResult `json:"imported"`
	Diff     *Diff        `json:"diff"`
}

// Migrate copies src into dst. The destination is first exported to a
// snapshot in backupDir; if the copy fails the snapshot is restored.
func Migrate(ctx context.Context, src, dst Registry, mode MigrateMode, backupDir string, logger *slog.Logger) (*MigrateResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if mode != MigrateMerge && mode != MigrateOverwrite {
		return nil, fmt.Errorf("unknown migrate mode %q", mode)
	}

	before, err := dst.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot destination: %w", err)
	}
	backup := filepath.Join(backupDir, BackupName(dst.Backend(), before.ExportedAt))
	if err := WriteSnapshot(backup, before); err != nil {
		return nil, fmt.Errorf("write pre-migration snapshot: %w", err)
	}

	res := &MigrateResult{From: src.Backend(), To: dst.Backend(), Mode: mode, Backup: backup}

	copyErr := func() error {
		snap, err := src.Export(ctx)
		if err != nil {
			return fmt.Errorf("export source: %w", err)
		}
		if mode == MigrateOverwrite {
			if err := dst.Clear(ctx); err != nil {
				return fmt.Errorf("clear destination: %w", err)
			}
		}
		res.Imported, err = dst.Import(ctx, snap)
		return err
	}()
	if copyErr != nil {
		logger.Error("registry migration failed, restoring snapshot", "backup", backup, "error", copyErr)
		if err := Rollback(context.WithoutCancel(ctx), dst, backup); err != nil {
			return nil, fmt.Errorf("migrate: %w (rollback failed: %v)", copyErr, err)
		}
		return nil, fmt.Errorf("migrate: %w", copyErr)
	}

	res.Diff, err = Compare(ctx, src, dst)
	if err != nil {
		return nil, err
	}
	logger.Info("migrated registry",
		"from", res.From, "to", res.To, "mode", mode,
		"added", res.Imported.Added, "only_in_source", len(res.Diff.OnlyInA), "only_in_destination", len(res.Diff.OnlyInB))
	return res, nil
}

// Rollback replaces the contents of reg with the snapshot at path.
func Rollback(ctx context.Context, reg Registry, path string) error {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return err
	}
	if err := reg.Clear(ctx); err != nil {
		return err
	}
	_, err = reg.Import(ctx, snap)
	return err
}

// Compare exports both registries concurrently and diffs their artists.
func Compare(ctx context.Context, a, b Registry) (*Diff, error) {
	var snapA, snapB *Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snapA, err = a.Export(gctx)
		return err
	})
	g.Go(func() (err error) {
		snapB, err = b.Export(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compare registries: %w", err)
	}
	return diffSnapshots(snapA, snapB), nil
}

func diffSnapshots(a, b *Snapshot) *Diff {
	d := &Diff{OnlyInA: []string{}, OnlyInB: []string{}, Common: []string{}}
	for artist, idsA := range a.Artists {
		idsB, ok := b.Artists[artist]
		if !ok {
			d.OnlyInA = append(d.OnlyInA, artist)
			continue
		}
		d.Common = append(d.Common, artist)
		d.ArtworkMismatches += symmetricDifference(idsA, idsB)
	}
	for artist := range b.Artists {
		if _, ok := a.Artists[artist]; !ok {
			d.OnlyInB = append(d.OnlyInB, artist)
		}
	}
	sort.Strings(d.OnlyInA)
	sort.Strings(d.OnlyInB)
	sort.Strings(d.Common)
	return d
}

func symmetricDifference(a, b []int64) int {
	set := make(map[int64]int, len(a)+len(b))
	for _, id := range a {
		set[id] |= 1
	}
	for _, id := range b {
		set[id] |= 2
	}
	n := 0
	for _, v := range set {
		if v != 3 {
			n++
		}
	}
	return n
}

// BackupName formats the file name of a snapshot of backend taken at t.
func BackupName(backend string, t time.Time) string {
	return fmt.Sprintf("registry-%s-%s.json", backend, t.UTC().Format("20060102T150405.000000000"))
}
