// Package http provides the pre-authenticated HTTP transport used to talk to
// the gallery API and its image CDN.
//
// The Client in this package handles:
//   - User-Agent and Referer headers (the image CDN rejects requests without a Referer)
//   - Bearer authentication with a token supplied by configuration
//   - JSON requests
//   - File downloads with progress tracking
//
// Credentials are never refreshed here; the token is handed in ready to use.
//
// # Basic Usage
//
//	client := http.NewClient(http.Options{AccessToken: token})
//
//	// Decode a JSON endpoint
//	var out response
//	err := client.GetJSON(ctx, "https://app-api.pixiv.net/v1/illust/detail?illust_id=1", &out)
//
//	// Download file with progress callback
//	client.DownloadFile(ctx, imageURL, "/path/to/file.png", func(written, total int64) {
//	    fmt.Printf("%d/%d\n", written, total)
//	})
//
// Non-2xx responses are returned as *StatusError so callers can tell a
// missing resource from a transient failure.
package http
