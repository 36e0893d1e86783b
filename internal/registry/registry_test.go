package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/database"
	"github.com/handiism/pixiv-downloader/internal/model"
)

func newJSON(t *testing.T) *JSONStore {
	t.Helper()
	s, err := OpenJSON(filepath.Join(t.TempDir(), "registry.json"), nil)
	if err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	return s
}

func newSQL(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	s, err := NewSQL(db, nil)
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var backends = []struct {
	name string
	open func(t *testing.T) Registry
}{
	{"json", func(t *testing.T) Registry { return newJSON(t) }},
	{"sqlite", func(t *testing.T) Registry { return newSQL(t) }},
}

func mustAdd(t *testing.T, reg Registry, artist string, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if err := reg.Add(context.Background(), artist, id); err != nil {
			t.Fatalf("Add(%s, %d): %v", artist, id, err)
		}
	}
}

func TestRegistry_Contract(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)

			mustAdd(t, reg, "alice", 10, 30, 20, 30)
			mustAdd(t, reg, "bob", 5)

			ok, err := reg.IsDownloaded(ctx, 30)
			if err != nil || !ok {
				t.Errorf("IsDownloaded(30) = %v, %v", ok, err)
			}
			if ok, _ := reg.IsDownloaded(ctx, 99); ok {
				t.Error("IsDownloaded(99) = true")
			}

			ids, err := reg.ArtistArtworks(ctx, "alice")
			if err != nil {
				t.Fatal(err)
			}
			if want := []int64{30, 20, 10}; !reflect.DeepEqual(ids, want) {
				t.Errorf("ArtistArtworks = %v, want %v", ids, want)
			}

			artists, _ := reg.Artists(ctx)
			if want := []string{"alice", "bob"}; !reflect.DeepEqual(artists, want) {
				t.Errorf("Artists = %v, want %v", artists, want)
			}

			st, err := reg.Stats(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.Artists != 2 || st.Artworks != 4 || st.Backend != b.name {
				t.Errorf("Stats = %+v", st)
			}

			if err := reg.Remove(ctx, "alice", 20); err != nil {
				t.Fatal(err)
			}
			ids, _ = reg.ArtistArtworks(ctx, "alice")
			if want := []int64{30, 10}; !reflect.DeepEqual(ids, want) {
				t.Errorf("after Remove = %v, want %v", ids, want)
			}

			if err := reg.RemoveArtist(ctx, "bob"); err != nil {
				t.Fatal(err)
			}
			if ok, _ := reg.IsDownloaded(ctx, 5); ok {
				t.Error("artwork of removed artist still downloaded")
			}

			if err := reg.Clear(ctx); err != nil {
				t.Fatal(err)
			}
			if st, _ := reg.Stats(ctx); st.Artists != 0 || st.Artworks != 0 {
				t.Errorf("Stats after Clear = %+v", st)
			}
		})
	}
}

func TestRegistry_RemoveLastArtworkDropsArtist(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)
			mustAdd(t, reg, "alice", 1, 2)
			mustAdd(t, reg, "bob", 3)

			if err := reg.Remove(ctx, "alice", 1); err != nil {
				t.Fatal(err)
			}
			if artists, _ := reg.Artists(ctx); !reflect.DeepEqual(artists, []string{"alice", "bob"}) {
				t.Errorf("Artists after partial remove = %v", artists)
			}

			if err := reg.Remove(ctx, "alice", 2); err != nil {
				t.Fatal(err)
			}
			artists, err := reg.Artists(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"bob"}; !reflect.DeepEqual(artists, want) {
				t.Errorf("Artists = %v, want %v", artists, want)
			}
			st, _ := reg.Stats(ctx)
			if st.Artists != 1 || st.Artworks != 1 {
				t.Errorf("Stats = %+v, want 1 artist and 1 artwork", st)
			}
		})
	}
}

func TestRegistry_ImportIsDuplicateSafe(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)
			mustAdd(t, reg, "alice", 1)

			snap := &Snapshot{Version: SnapshotVersion, Artists: map[string][]int64{
				"alice": {1, 2},
				"carol": {3},
			}}
			res, err := reg.Import(ctx, snap)
			if err != nil {
				t.Fatal(err)
			}
			if res.Added != 2 || res.Skipped != 1 {
				t.Errorf("Import = %+v, want 2 added 1 skipped", res)
			}

			res, err = reg.Import(ctx, snap)
			if err != nil {
				t.Fatal(err)
			}
			if res.Added != 0 {
				t.Errorf("second Import added %d", res.Added)
			}

			out, err := reg.Export(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if out.Version != SnapshotVersion || out.Artworks() != 3 {
				t.Errorf("Export = %+v", out)
			}
		})
	}
}

func TestRegistry_ConcurrentAddsSameArtist(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)

			var wg sync.WaitGroup
			errs := make(chan error, 40)
			for i := 0; i < 20; i++ {
				wg.Add(2)
				id := int64(i)
				go func() { defer wg.Done(); errs <- reg.Add(ctx, "alice", id) }()
				go func() { defer wg.Done(); errs <- reg.Add(ctx, "alice", id) }()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatal(err)
				}
			}

			ids, _ := reg.ArtistArtworks(ctx, "alice")
			if len(ids) != 20 {
				t.Errorf("len(ArtistArtworks) = %d, want 20", len(ids))
			}
		})
	}
}

func TestSQLStore_ArtworkCountDerivedFromRows(t *testing.T) {
	ctx := context.Background()
	s := newSQL(t)
	mustAdd(t, s, "alice", 1, 2, 3, 3)
	if err := s.Remove(ctx, "alice", 2); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT artwork_count FROM artists WHERE name = ?`, "alice").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("artwork_count = %d, want 2", count)
	}

	_, err := s.db.Exec(`INSERT INTO artworks (artist_id, artwork_id) VALUES (9999, 1)`)
	if err == nil {
		t.Error("foreign key on artworks.artist_id not enforced")
	}
}

func TestJSONStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	s, err := OpenJSON(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	mustAdd(t, s, "alice", 7, 8)

	reopened, err := OpenJSON(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := reopened.ArtistArtworks(context.Background(), "alice")
	if want := []int64{8, 7}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ArtistArtworks = %v, want %v", ids, want)
	}
}

func TestOpen(t *testing.T) {
	settings := config.DefaultSettings()
	settings.DataDir = t.TempDir()

	tests := []struct {
		backend string
		wantErr error
	}{
		{config.BackendJSON, nil},
		{config.BackendSQLite, nil},
		{"redis", ErrUnknownBackend},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			settings.RegistryBackend = tt.backend
			reg, err := Open(settings, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open err = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer reg.Close()
			if reg.Backend() != tt.backend {
				t.Errorf("Backend = %q, want %q", reg.Backend(), tt.backend)
			}
		})
	}
}

func TestSwitch_Apply(t *testing.T) {
	ctx := context.Background()
	settings := config.DefaultSettings()
	settings.DataDir = t.TempDir()
	settings.RegistryBackend = config.BackendJSON

	sw, err := NewSwitch(settings, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sw.Close()
	mustAdd(t, sw, "alice", 1)

	next := *settings
	next.RegistryBackend = config.BackendSQLite
	if err := sw.Apply(&next); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if sw.Backend() != config.BackendSQLite {
		t.Fatalf("Backend = %q", sw.Backend())
	}
	if ok, _ := sw.IsDownloaded(ctx, 1); ok {
		t.Error("fresh sqlite backend should not contain json entries")
	}

	if err := sw.Apply(&next); err != nil {
		t.Errorf("Apply with unchanged backend: %v", err)
	}
}

func TestMigrate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newJSON(t)
	dst := newSQL(t)
	mustAdd(t, src, "alice", 1, 2)
	mustAdd(t, src, "bob", 3)

	res, err := Migrate(ctx, src, dst, MigrateMerge, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if res.Imported.Added != 3 {
		t.Errorf("Added = %d, want 3", res.Imported.Added)
	}
	if !res.Diff.Equal() || len(res.Diff.Common) != 2 {
		t.Errorf("Diff = %+v", res.Diff)
	}

	back := newJSON(t)
	if _, err := Migrate(ctx, dst, back, MigrateOverwrite, t.TempDir(), nil); err != nil {
		t.Fatal(err)
	}
	d, err := Compare(ctx, src, back)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal() {
		t.Errorf("json → sqlite → json diff = %+v", d)
	}
}

func TestMigrate_OverwriteAndRollback(t *testing.T) {
	ctx := context.Background()
	src := newJSON(t)
	dst := newSQL(t)
	mustAdd(t, src, "alice", 1)
	mustAdd(t, dst, "zed", 9)

	res, err := Migrate(ctx, src, dst, MigrateOverwrite, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := dst.IsDownloaded(ctx, 9); ok {
		t.Error("overwrite kept destination entries")
	}

	if err := Rollback(ctx, dst, res.Backup); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if ok, _ := dst.IsDownloaded(ctx, 9); !ok {
		t.Error("rollback did not restore pre-migration entries")
	}
	if ok, _ := dst.IsDownloaded(ctx, 1); ok {
		t.Error("rollback kept migrated entries")
	}
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	a := newJSON(t)
	b := newJSON(t)
	mustAdd(t, a, "alice", 1, 2)
	mustAdd(t, a, "only-a", 5)
	mustAdd(t, b, "alice", 2, 3)
	mustAdd(t, b, "only-b", 6)

	d, err := Compare(ctx, a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := &Diff{OnlyInA: []string{"only-a"}, OnlyInB: []string{"only-b"}, Common: []string{"alice"}, ArtworkMismatches: 2}
	if !reflect.DeepEqual(d, want) {
		t.Errorf("Compare = %+v, want %+v", d, want)
	}
}

func infoJSON(id int64) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(fmt.Sprintf(`{"artwork_id": %d, "title": "t", "page_count": 1}`, id))}
}

func TestMaintenance_Rebuild(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{
		"alice/100_Sunset/info.json":   infoJSON(100),
		"alice/100_Sunset/100_p0.png":  {Data: []byte("x")},
		"alice/200_Night/200_p0.png":   {Data: []byte("x")},
		"alice/300_Wrong/info.json":    infoJSON(301),
		"alice/notes/readme.txt":       {Data: []byte("x")},
		"bob/400_Sea/info.json":        infoJSON(400),
		"stray.txt":                    {Data: []byte("x")},
		"carol/custom-500-x/info.json": infoJSON(500),
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)
			mustAdd(t, reg, "bob", 400)
			m := NewMaintenance(reg, nil)

			res, err := m.Rebuild(ctx, fsys, model.NewResolver("custom-{artwork_id}-{title}"))
			if err != nil {
				t.Fatal(err)
			}
			if res.Added != 2 || res.Scanned != 6 || res.Invalid != 3 {
				t.Errorf("Rebuild = %+v, want 2 added, 6 scanned, 3 invalid", res)
			}

			for _, id := range []int64{100, 400, 500} {
				if ok, _ := reg.IsDownloaded(ctx, id); !ok {
					t.Errorf("artwork %d missing after rebuild", id)
				}
			}
			for _, id := range []int64{200, 300, 301} {
				if ok, _ := reg.IsDownloaded(ctx, id); ok {
					t.Errorf("artwork %d should not be registered", id)
				}
			}

			again, err := m.Rebuild(ctx, fsys, model.NewResolver("custom-{artwork_id}-{title}"))
			if err != nil || again.Added != 0 {
				t.Errorf("second Rebuild = %+v, %v", again, err)
			}
		})
	}
}

func TestMaintenance_Cleanup(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{
		"alice/100_Sunset/info.json": infoJSON(100),
		"alice/200_Night/200_p0.png": {Data: []byte("x")},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			reg := b.open(t)
			mustAdd(t, reg, "alice", 100, 200, 300)
			mustAdd(t, reg, "ghost", 900)
			m := NewMaintenance(reg, nil)

			res, err := m.Cleanup(ctx, fsys, model.NewResolver(""))
			if err != nil {
				t.Fatal(err)
			}
			if res.Checked != 4 || res.Removed != 3 || res.ArtistsRemoved != 1 {
				t.Errorf("Cleanup = %+v, want 4 checked, 3 removed, 1 artist removed", res)
			}

			ids, _ := reg.ArtistArtworks(ctx, "alice")
			if want := []int64{100}; !reflect.DeepEqual(ids, want) {
				t.Errorf("alice = %v, want %v", ids, want)
			}
			artists, _ := reg.Artists(ctx)
			if want := []string{"alice"}; !reflect.DeepEqual(artists, want) {
				t.Errorf("Artists = %v, want %v", artists, want)
			}
		})
	}
}
