package ioutils

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder registration
	_ "image/jpeg" // JPEG decoder registration
	_ "image/png"  // PNG decoder registration
	"io"
	"os"

	"github.com/handiism/pixiv-downloader/internal/model"
	_ "golang.org/x/image/bmp"  // BMP decoder registration
	_ "golang.org/x/image/tiff" // TIFF decoder registration
	_ "golang.org/x/image/webp" // WebP decoder registration
)

// Content formats recognised by CheckIntegrity.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWebP = "webp"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
	FormatZIP  = "zip"
)

// IntegrityResult is the verdict of CheckIntegrity.
type IntegrityResult struct {
	Valid  bool
	Reason string
}

var extensionFormats = map[string]string{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".webp": FormatWebP,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".zip":  FormatZIP,
}

// ExpectedFormat returns the content format implied by the URL extension,
// or "" when the extension is unknown.
func ExpectedFormat(sourceURL string) string {
	return extensionFormats[model.URLExtension(sourceURL)]
}

// DetectFormat identifies the content format from the leading bytes.
func DetectFormat(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(head, []byte("GIF87a")), bytes.HasPrefix(head, []byte("GIF89a")):
		return FormatGIF
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return FormatWebP
	case bytes.HasPrefix(head, []byte("BM")):
		return FormatBMP
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")):
		return FormatTIFF
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return FormatZIP
	}
	return ""
}

// trailers are the byte sequences a complete file of the format ends with.
var trailers = map[string][]byte{
	FormatJPEG: {0xFF, 0xD9},
	FormatPNG:  {0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82},
	FormatGIF:  {0x3B},
}

// CheckIntegrity validates a downloaded file against the source URL.
//
// The file must exist, be non-empty, carry the content signature of the
// format its URL extension names, decode as an image header where the format
// is an image, and end with the format trailer where one exists. Any mismatch
// invalidates the file regardless of its size on disk.
func CheckIntegrity(path, sourceURL string) IntegrityResult {
	f, err := os.Open(path)
	if err != nil {
		return IntegrityResult{Reason: fmt.Sprintf("cannot open: %v", err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return IntegrityResult{Reason: fmt.Sprintf("cannot stat: %v", err)}
	}
	if info.IsDir() {
		return IntegrityResult{Reason: "is a directory"}
	}
	if info.Size() == 0 {
		return IntegrityResult{Reason: "empty file"}
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return IntegrityResult{Reason: fmt.Sprintf("cannot read: %v", err)}
	}
	head = head[:n]

	detected := DetectFormat(head)
	expected := ExpectedFormat(sourceURL)
	if expected != "" && detected != expected {
		if detected == "" {
			detected = "unknown"
		}
		return IntegrityResult{Reason: fmt.Sprintf("content is %s, expected %s", detected, expected)}
	}

	if detected == "" || detected == FormatZIP {
		return IntegrityResult{Valid: true}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return IntegrityResult{Reason: fmt.Sprintf("cannot seek: %v", err)}
	}
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return IntegrityResult{Reason: fmt.Sprintf("undecodable %s header: %v", detected, err)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return IntegrityResult{Reason: fmt.Sprintf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}

	if trailer, ok := trailers[detected]; ok {
		if info.Size() < int64(len(trailer)) {
			return IntegrityResult{Reason: "truncated file"}
		}
		tail := make([]byte, len(trailer))
		if _, err := f.ReadAt(tail, info.Size()-int64(len(trailer))); err != nil {
			return IntegrityResult{Reason: fmt.Sprintf("cannot read trailer: %v", err)}
		}
		if !bytes.Equal(tail, trailer) {
			return IntegrityResult{Reason: fmt.Sprintf("truncated %s (missing trailer)", detected)}
		}
	}

	return IntegrityResult{Valid: true}
}
