package dto

import (
	"github.com/handiism/pixiv-downloader/internal/model"
)

// JSONUser is the author block of an illust.
type JSONUser struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Account string `json:"account"`
}

// JSONImageURLs are the size variants of one page.
type JSONImageURLs struct {
	SquareMedium string `json:"square_medium"`
	Medium       string `json:"medium"`
	Large        string `json:"large"`
	Original     string `json:"original,omitempty"`
}

// JSONMetaPage is one page of a multi-page illust.
type JSONMetaPage struct {
	ImageURLs JSONImageURLs `json:"image_urls"`
}

// JSONIllust is an illust as returned by the app API.
type JSONIllust struct {
	ID             int64         `json:"id"`
	Title          string        `json:"title"`
	Type           string        `json:"type"`
	User           JSONUser      `json:"user"`
	PageCount      int           `json:"page_count"`
	ImageURLs      JSONImageURLs `json:"image_urls"`
	MetaSinglePage struct {
		OriginalImageURL string `json:"original_image_url"`
	} `json:"meta_single_page"`
	MetaPages []JSONMetaPage `json:"meta_pages"`
}

// JSONIllustDetail wraps /v1/illust/detail.
type JSONIllustDetail struct {
	Illust *JSONIllust `json:"illust"`
}

// JSONIllustList wraps paged illust listings (user illusts, ranking).
type JSONIllustList struct {
	Illusts []JSONIllust `json:"illusts"`
	NextURL string       `json:"next_url"`
}

// ToDetail converts the illust to a model.ArtworkDetail.
func (ji *JSONIllust) ToDetail() *model.ArtworkDetail {
	pages := ji.PageCount
	if pages == 0 {
		pages = 1
	}
	return &model.ArtworkDetail{
		ID:         ji.ID,
		Title:      ji.Title,
		ArtistID:   ji.User.ID,
		ArtistName: ji.User.Name,
		PageCount:  pages,
		Type:       ji.Type,
	}
}

// ToImageURLs returns one entry per page. Single-page illusts carry the
// original URL in meta_single_page; multi-page ones list every page in meta_pages.
func (ji *JSONIllust) ToImageURLs() []model.ImageURLs {
	if len(ji.MetaPages) == 0 {
		return []model.ImageURLs{{
			Original:     ji.MetaSinglePage.OriginalImageURL,
			Large:        ji.ImageURLs.Large,
			Medium:       ji.ImageURLs.Medium,
			SquareMedium: ji.ImageURLs.SquareMedium,
		}}
	}

	urls := make([]model.ImageURLs, len(ji.MetaPages))
	for i, p := range ji.MetaPages {
		urls[i] = model.ImageURLs{
			Original:     p.ImageURLs.Original,
			Large:        p.ImageURLs.Large,
			Medium:       p.ImageURLs.Medium,
			SquareMedium: p.ImageURLs.SquareMedium,
		}
	}
	return urls
}

// ToListing converts a page of illusts. More pages exist while next_url is set.
func (jl *JSONIllustList) ToListing() *model.Listing {
	items := make([]model.ArtworkDetail, 0, len(jl.Illusts))
	for i := range jl.Illusts {
		items = append(items, *jl.Illusts[i].ToDetail())
	}
	return &model.Listing{Items: items, HasMore: jl.NextURL != ""}
}
