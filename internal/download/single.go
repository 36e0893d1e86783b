package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/handiism/pixiv-downloader/internal/config"
	ioutils "github.com/handiism/pixiv-downloader/internal/io"
	"github.com/handiism/pixiv-downloader/internal/model"
	"github.com/handiism/pixiv-downloader/internal/task"
)

// runSingle downloads the pages of one artwork in order, skipping the
// indexes in have, and settles the task.
func (e *Executor) runSingle(r *run, artwork *model.Artwork, have map[int]bool) {
	ctx := r.tok.Context()
	log := e.logger.With("task_id", r.id, "artwork_id", artwork.ID)

	r.mu.Lock()
	r.cleanup = func(ctx context.Context) error { return e.discard(ctx, artwork.Path) }
	r.mu.Unlock()

	var orchErr error
	func() {
		defer func() {
			if err := recovered(recover()); err != nil {
				orchErr = err
			}
		}()
		orchErr = e.fetchPages(ctx, r, artwork, have, func(img *model.Image, size int64, err error) {
			if err != nil {
				log.Warn("page download failed", "page", img.Page, "error", err)
			}
			e.update(r.id, func(t *task.Task) error {
				if err != nil {
					t.FailedFiles++
					return nil
				}
				t.CompletedFiles++
				t.DownloadedBytes += size
				return nil
			})
		})
		if orchErr != nil && ctx.Err() != nil {
			orchErr = nil
		}
	}()

	e.finish(r, orchErr, func() string {
		return e.commit(context.WithoutCancel(ctx), artwork)
	})
}

// resolve fetches an artwork's detail and page URLs and lays it out on disk.
func (e *Executor) resolve(ctx context.Context, id int64, size string, settings *config.Settings) (*model.Artwork, error) {
	detail, err := e.client.ArtworkDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("artwork %d detail: %w", id, err)
	}
	pages, err := e.client.ArtworkImages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("artwork %d images: %w", id, err)
	}

	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		if u := p.BySize(size); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("artwork %d has no downloadable pages", id)
	}
	return model.NewArtwork(detail, urls, settings.ToPathConfig()), nil
}

// classify returns the pages already on disk that pass the integrity check.
// Pages present but invalid are deleted.
func (e *Executor) classify(ctx context.Context, artwork *model.Artwork) map[int]bool {
	have := make(map[int]bool)
	for _, img := range artwork.Images {
		e.files.SafeDelete(ctx, img.Path+ioutils.PartSuffix)
		if !ioutils.Exists(img.Path) {
			continue
		}
		if res := e.files.CheckIntegrity(img.Path, img.URL); res.Valid {
			have[img.Page] = true
			continue
		}
		e.logger.Info("deleting incomplete page", "artwork_id", artwork.ID, "path", img.Path)
		e.files.SafeDelete(ctx, img.Path)
	}
	return have
}

// fetchPages downloads every page not in have, in page order, and reports
// each result to onPage. A page failure does not stop the loop. It returns
// ctx's error once ctx is done, after removing the in-flight part file; a
// part file that cannot be removed becomes a warning on r.
func (e *Executor) fetchPages(ctx context.Context, r *run, artwork *model.Artwork, have map[int]bool, onPage func(img *model.Image, size int64, err error)) error {
	if !e.files.EnsureDir(ctx, artwork.Path) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("create artwork directory %s", artwork.Path)
	}

	for _, img := range artwork.Images {
		if have[img.Page] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.files.Download(ctx, img.URL, img.Path, nil)
		if err != nil && ctx.Err() != nil {
			part := img.Path + ioutils.PartSuffix
			if !e.files.SafeDelete(context.WithoutCancel(ctx), part) {
				r.warn("cleanup failed: " + part + " not removed")
			}
			return ctx.Err()
		}

		var size int64
		if err == nil {
			if info, statErr := os.Stat(img.Path); statErr == nil {
				size = info.Size()
			}
		}
		onPage(img, size, err)
	}
	return nil
}

// verify is the one authoritative completeness check: the artwork has a
// file for every page the service reports and each passes the integrity check.
func (e *Executor) verify(artwork *model.Artwork) bool {
	if len(artwork.Images) != artwork.PageCount {
		return false
	}
	for _, img := range artwork.Images {
		if res := e.files.CheckIntegrity(img.Path, img.URL); !res.Valid {
			return false
		}
	}
	return true
}

// commit runs the verification sweep and, if it passes, writes the info
// record and adds the artwork to the registry. It returns a warning when
// the artwork could not be recorded.
func (e *Executor) commit(ctx context.Context, artwork *model.Artwork) string {
	log := e.logger.With("artwork_id", artwork.ID)

	if !e.verify(artwork) {
		log.Warn("verification sweep failed, artwork not recorded", "pages", artwork.PageCount, "files", len(artwork.Images))
		return fmt.Sprintf("artwork %d failed verification and was not recorded", artwork.ID)
	}

	data, err := json.MarshalIndent(model.NewInfoRecord(artwork, e.now()), "", "  ")
	if err == nil {
		err = ioutils.WriteFileAtomic(filepath.Join(artwork.Path, model.InfoFileName), data)
	}
	if err != nil {
		log.Warn("write info record", "error", err)
		return fmt.Sprintf("artwork %d info record: %v", artwork.ID, err)
	}

	artist := model.NormalizeArtist(artwork.Artist)
	if err := e.registry.Add(ctx, artist, artwork.ID); err != nil {
		log.Error("registry add failed", "artist", artist, "error", err)
		return fmt.Sprintf("artwork %d registry: %v", artwork.ID, err)
	}
	log.Debug("recorded artwork", "artist", artist)
	return ""
}

// discard removes an artwork directory unless it holds an info record from
// an earlier complete download.
func (e *Executor) discard(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, model.InfoFileName)); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return e.files.RemoveAll(ctx, dir)
}
