package model

// Image sizes offered by the remote service.
const (
	SizeOriginal     = "original"
	SizeLarge        = "large"
	SizeMedium       = "medium"
	SizeSquareMedium = "square_medium"
)

// ArtworkDetail is the metadata the content client returns for one artwork.
type ArtworkDetail struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	ArtistID   int64  `json:"artist_id"`
	ArtistName string `json:"artist_name"`
	PageCount  int    `json:"page_count"`
	Type       string `json:"type,omitempty"`
}

// ImageURLs holds every size variant of one page.
type ImageURLs struct {
	Original     string `json:"original"`
	Large        string `json:"large"`
	Medium       string `json:"medium"`
	SquareMedium string `json:"square_medium"`
}

// BySize returns the URL for size. A missing variant falls back to the next
// smaller one, then to the nearest larger one.
func (u ImageURLs) BySize(size string) string {
	chain := []string{u.Original, u.Large, u.Medium, u.SquareMedium}
	start := 0
	switch size {
	case SizeLarge:
		start = 1
	case SizeMedium:
		start = 2
	case SizeSquareMedium:
		start = 3
	}

	for _, candidate := range chain[start:] {
		if candidate != "" {
			return candidate
		}
	}
	for i := start - 1; i >= 0; i-- {
		if chain[i] != "" {
			return chain[i]
		}
	}
	return ""
}

// Listing is one page of an artist back-catalog or a ranking.
type Listing struct {
	Items   []ArtworkDetail `json:"items"`
	HasMore bool            `json:"has_more"`
}
