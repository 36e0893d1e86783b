// Package pixiv fetches artwork metadata and listings from the pixiv app API.
//
// The package answers four questions for the downloader:
//
//  1. What is artwork N (title, author, page count)?
//  2. Which image URLs does each page of artwork N have?
//  3. Which artworks has artist N published, one page at a time?
//  4. What is on a ranking, one page at a time?
//
// # Detail and Images
//
//	client := pixiv.NewClient(transport, "")
//	detail, _ := client.ArtworkDetail(ctx, 12345)
//	pages, _ := client.ArtworkImages(ctx, 12345)
//	for _, p := range pages {
//	    fmt.Println(p.BySize(model.SizeOriginal))
//	}
//
// # Listings
//
// ArtistArtworks and Ranking return a model.Listing. HasMore stays true while
// the API reports a next page; callers advance offset by len(Items):
//
//	for offset := 0; ; {
//	    page, err := client.ArtistArtworks(ctx, artistID, offset)
//	    if err != nil || !page.HasMore {
//	        break
//	    }
//	    offset += len(page.Items)
//	}
//
// # Data Format
//
// Single-page illusts carry the original URL in meta_single_page, multi-page
// ones list every page in meta_pages. The dto subpackage maps both shapes
// onto model.ImageURLs.
package pixiv
