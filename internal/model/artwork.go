package model

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Default naming templates.
const (
	DefaultDirNameFormat  = "{artwork_id}_{title}"
	DefaultFileNameFormat = "{artwork_id}_p{page}"
)

// maxDirNameBytes bounds an artwork directory name.
const maxDirNameBytes = 199

// Artwork represents one gallery entry and the local layout of its pages.
//
// Paths are computed when creating an artwork via NewArtwork:
//
//	<DownloadsPath>/<artist>/<DirNameFormat>/<FileNameFormat><ext>
//
// Example:
//
//	cfg := &PathConfig{DownloadsPath: "/pictures", DirNameFormat: "{artwork_id}_{title}"}
//	artwork := NewArtwork(detail, urls, cfg)
//	// artwork.Path = "/pictures/Artist/12345_Title"
type Artwork struct {
	// ID is the remote artwork id.
	ID int64

	// Title is the artwork title.
	Title string

	// ArtistID is the remote id of the author.
	ArtistID int64

	// Artist is the author display name.
	Artist string

	// PageCount is the number of pages the remote service reports.
	PageCount int

	// Images holds one entry per page URL that was resolved.
	Images []*Image

	// Path is the local directory the pages are saved into.
	Path string
}

// Image is a single page of an artwork.
type Image struct {
	// Artwork is a reference to the parent artwork.
	Artwork *Artwork

	// Page is the zero-based page index.
	Page int

	// URL is the remote URL of the selected size.
	URL string

	// Path is the local file path for this page.
	Path string
}

// PathConfig holds path formatting settings for artworks and pages.
type PathConfig struct {
	// DownloadsPath is the root directory; artists are created directly below it.
	DownloadsPath string

	// DirNameFormat is the template for an artwork directory name.
	DirNameFormat string

	// FileNameFormat is the template for a page file name, without extension.
	FileNameFormat string
}

// NewArtwork creates an Artwork with computed paths for every page URL.
func NewArtwork(detail *ArtworkDetail, urls []string, cfg *PathConfig) *Artwork {
	artwork := &Artwork{
		ID:        detail.ID,
		Title:     detail.Title,
		ArtistID:  detail.ArtistID,
		Artist:    detail.ArtistName,
		PageCount: detail.PageCount,
	}

	artwork.Path = filepath.Join(ArtistDir(cfg, detail.ArtistName), artwork.parseDirName(cfg))

	for i, u := range urls {
		img := &Image{Artwork: artwork, Page: i, URL: u}
		img.Path = filepath.Join(artwork.Path, artwork.parseFileName(cfg, i)+URLExtension(u))
		artwork.Images = append(artwork.Images, img)
	}

	return artwork
}

// ArtistDir returns the directory holding all artworks of artist.
func ArtistDir(cfg *PathConfig, artist string) string {
	return filepath.Join(cfg.DownloadsPath, NormalizeArtist(artist))
}

// NormalizeArtist turns a display name into the key used on disk and in the registry.
func NormalizeArtist(artist string) string {
	name := sanitizeFileName(strings.TrimSpace(artist))
	if name == "" {
		return "unknown"
	}
	return name
}

// ExpectedFiles returns the local paths of every page.
func (a *Artwork) ExpectedFiles() []string {
	paths := make([]string, len(a.Images))
	for i, img := range a.Images {
		paths[i] = img.Path
	}
	return paths
}

// parseDirName computes the artwork directory name from the config template.
func (a *Artwork) parseDirName(cfg *PathConfig) string {
	format := cfg.DirNameFormat
	if format == "" {
		format = DefaultDirNameFormat
	}
	name := format
	name = strings.ReplaceAll(name, "{artwork_id}", strconv.FormatInt(a.ID, 10))
	name = strings.ReplaceAll(name, "{artist_id}", strconv.FormatInt(a.ArtistID, 10))
	name = strings.ReplaceAll(name, "{artist}", a.Artist)
	name = strings.ReplaceAll(name, "{title}", a.Title)
	name = sanitizeFileName(name)

	// Windows MAX_PATH leaves little room for long titles
	if len(name) > maxDirNameBytes {
		cut := maxDirNameBytes
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimRight(name[:cut], " ")
	}
	return name
}

// parseFileName computes a page file name (without extension) from the config template.
func (a *Artwork) parseFileName(cfg *PathConfig, page int) string {
	format := cfg.FileNameFormat
	if format == "" {
		format = DefaultFileNameFormat
	}
	name := format
	name = strings.ReplaceAll(name, "{artwork_id}", strconv.FormatInt(a.ID, 10))
	name = strings.ReplaceAll(name, "{page}", strconv.Itoa(page))
	name = strings.ReplaceAll(name, "{title}", a.Title)
	return sanitizeFileName(name)
}

// URLExtension returns the lower-cased extension of the URL path, including the dot.
func URLExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

// sanitizeFileName removes or replaces characters that are invalid in file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars) are replaced with underscore
//   - Trailing dots are removed (Windows limitation)
//   - Multiple whitespace is collapsed to single space
//   - Trailing whitespace is removed
func sanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = whitespace.ReplaceAllString(name, " ")
	return strings.TrimRight(name, " ")
}

var (
	invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots = regexp.MustCompile(`\.+$`)
	whitespace   = regexp.MustCompile(`\s+`)
)
