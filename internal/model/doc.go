// Package model defines the core data structures used throughout
// the pixiv-downloader application.
//
// # Artwork
//
// Artwork represents one gallery entry with its pages and computed paths:
//
//	artwork := model.NewArtwork(detail, urls, pathConfig)
//	fmt.Println(artwork.Path) // Where to save the artwork
//
// # Image
//
// Image represents a single page of an artwork:
//
//	for _, img := range artwork.Images {
//	    fmt.Println(img.Path) // Full path where the page will be saved
//	}
//
// # Path Configuration
//
// PathConfig controls how artwork directories and page files are named:
//
//	cfg := &model.PathConfig{
//	    DownloadsPath:  "/pictures",
//	    DirNameFormat:  "{artwork_id}_{title}",
//	    FileNameFormat: "{artwork_id}_p{page}",
//	}
//
// Directory placeholders: {artwork_id}, {title}, {artist}, {artist_id}
// File placeholders: {artwork_id}, {page}, {title}
//
// # Naming Patterns
//
// NamingPattern reverses DirNameFormat so an artwork id can be recovered
// from a directory name during registry rebuilds.
package model
