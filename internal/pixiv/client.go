package pixiv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/handiism/pixiv-downloader/internal/http"
	"github.com/handiism/pixiv-downloader/internal/model"
	"github.com/handiism/pixiv-downloader/internal/pixiv/dto"
)

// DefaultBaseURL is the app API host.
const DefaultBaseURL = "https://app-api.pixiv.net"

// ErrNotFound is returned when the API answers without an illust.
var ErrNotFound = errors.New("artwork not found")

// Client fetches artwork metadata from the pixiv app API.
//
// The transport is expected to be pre-authenticated: it adds the access
// token, User-Agent and Referer to every request. Client never manages
// credentials itself.
//
// Example usage:
//
//	transport := http.NewClient(http.Options{AccessToken: token})
//	client := pixiv.NewClient(transport, "")
//
//	detail, err := client.ArtworkDetail(ctx, 12345)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%s by %s (%d pages)\n", detail.Title, detail.ArtistName, detail.PageCount)
type Client struct {
	transport *http.Client
	baseURL   string
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(transport *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{transport: transport, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Client) endpoint(path string, q url.Values) string {
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) illust(ctx context.Context, id int64) (*dto.JSONIllust, error) {
	q := url.Values{"illust_id": {strconv.FormatInt(id, 10)}}

	var resp dto.JSONIllustDetail
	if err := c.transport.GetJSON(ctx, c.endpoint("/v1/illust/detail", q), &resp); err != nil {
		return nil, fmt.Errorf("illust %d: %w", id, err)
	}
	if resp.Illust == nil || resp.Illust.ID == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return resp.Illust, nil
}

// ArtworkDetail returns title, author and page count of an artwork.
func (c *Client) ArtworkDetail(ctx context.Context, id int64) (*model.ArtworkDetail, error) {
	ji, err := c.illust(ctx, id)
	if err != nil {
		return nil, err
	}
	return ji.ToDetail(), nil
}

// ArtworkImages returns the size variants of every page of an artwork.
func (c *Client) ArtworkImages(ctx context.Context, id int64) ([]model.ImageURLs, error) {
	ji, err := c.illust(ctx, id)
	if err != nil {
		return nil, err
	}
	return ji.ToImageURLs(), nil
}

// ArtistArtworks returns one page of an artist's illusts starting at offset.
func (c *Client) ArtistArtworks(ctx context.Context, artistID int64, offset int) (*model.Listing, error) {
	q := url.Values{
		"user_id": {strconv.FormatInt(artistID, 10)},
		"type":    {"illust"},
		"offset":  {strconv.Itoa(offset)},
	}
	return c.listing(ctx, c.endpoint("/v1/user/illusts", q))
}

// Ranking returns one page of a ranking starting at offset. See RankingMode
// for how mode and rankingType combine.
func (c *Client) Ranking(ctx context.Context, mode, rankingType string, offset int) (*model.Listing, error) {
	apiMode, err := RankingMode(mode, rankingType)
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"mode":   {apiMode},
		"offset": {strconv.Itoa(offset)},
	}
	return c.listing(ctx, c.endpoint("/v1/illust/ranking", q))
}

func (c *Client) listing(ctx context.Context, u string) (*model.Listing, error) {
	var resp dto.JSONIllustList
	if err := c.transport.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.ToListing(), nil
}
