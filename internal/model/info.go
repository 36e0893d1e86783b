package model

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

// InfoFileName is the name of the metadata record written next to the pages
// of every fully verified artwork.
const InfoFileName = "info.json"

// InfoRecord is the on-disk proof that an artwork directory holds a complete download.
type InfoRecord struct {
	ArtworkID    int64     `json:"artwork_id"`
	Title        string    `json:"title"`
	ArtistID     int64     `json:"artist_id"`
	Artist       string    `json:"artist"`
	PageCount    int       `json:"page_count"`
	Files        []string  `json:"files"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// NewInfoRecord describes artwork as downloaded at now.
func NewInfoRecord(a *Artwork, now time.Time) *InfoRecord {
	files := make([]string, len(a.Images))
	for i, img := range a.Images {
		files[i] = filepath.Base(img.Path)
	}
	return &InfoRecord{
		ArtworkID:    a.ID,
		Title:        a.Title,
		ArtistID:     a.ArtistID,
		Artist:       a.Artist,
		PageCount:    a.PageCount,
		Files:        files,
		DownloadedAt: now.UTC(),
	}
}

// ReadInfoRecord loads the info record stored in dir.
func ReadInfoRecord(dir string) (*InfoRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, InfoFileName))
	if err != nil {
		return nil, err
	}
	return decodeInfoRecord(data, dir)
}

// ReadInfoRecordFS loads the info record stored in dir of fsys.
func ReadInfoRecordFS(fsys fs.FS, dir string) (*InfoRecord, error) {
	data, err := fs.ReadFile(fsys, path.Join(dir, InfoFileName))
	if err != nil {
		return nil, err
	}
	return decodeInfoRecord(data, dir)
}

func decodeInfoRecord(data []byte, dir string) (*InfoRecord, error) {
	var rec InfoRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", InfoFileName, err)
	}
	if rec.ArtworkID == 0 {
		return nil, fmt.Errorf("%s in %s has no artwork id", InfoFileName, dir)
	}
	return &rec, nil
}
