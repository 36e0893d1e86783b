package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/handiism/pixiv-downloader/internal/task"
)

// Target kinds.
const (
	TargetArtwork  = "artwork"
	TargetMultiple = "multiple"
	TargetArtist   = "artist"
	TargetRanking  = "ranking"
)

// ErrBadTarget is returned by ParseTarget for input it cannot understand.
var ErrBadTarget = errors.New("unrecognised download target")

// Target is a parsed download request from free-form user input.
type Target struct {
	Kind        string
	IDs         []int64
	ArtistID    int64
	Mode        string
	RankingType string
	Limit       int
}

var (
	artworkURL = regexp.MustCompile(`pixiv\.net/(?:[a-z]{2}/)?artworks/(\d+)`)
	artistURL  = regexp.MustCompile(`pixiv\.net/(?:[a-z]{2}/)?users/(\d+)`)
)

// ParseTarget understands:
//
//	12345                          one artwork
//	12345,67890 or "12345 67890"   several artworks
//	https://www.pixiv.net/artworks/12345
//	https://www.pixiv.net/users/678
//	artist:678[:limit]
//	ranking:<mode>[:<type>[:limit]]
func ParseTarget(input string) (Target, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Target{}, fmt.Errorf("%w: empty input", ErrBadTarget)
	}

	if m := artworkURL.FindStringSubmatch(input); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		return Target{Kind: TargetArtwork, IDs: []int64{id}}, nil
	}
	if m := artistURL.FindStringSubmatch(input); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		return Target{Kind: TargetArtist, ArtistID: id}, nil
	}

	if rest, ok := strings.CutPrefix(input, "artist:"); ok {
		parts := strings.Split(rest, ":")
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || id <= 0 || len(parts) > 2 {
			return Target{}, fmt.Errorf("%w: %q", ErrBadTarget, input)
		}
		t := Target{Kind: TargetArtist, ArtistID: id}
		if len(parts) == 2 {
			if t.Limit, err = strconv.Atoi(parts[1]); err != nil {
				return Target{}, fmt.Errorf("%w: bad limit in %q", ErrBadTarget, input)
			}
		}
		return t, nil
	}

	if rest, ok := strings.CutPrefix(input, "ranking:"); ok {
		parts := strings.Split(rest, ":")
		if parts[0] == "" || len(parts) > 3 {
			return Target{}, fmt.Errorf("%w: %q", ErrBadTarget, input)
		}
		t := Target{Kind: TargetRanking, Mode: parts[0]}
		if len(parts) > 1 {
			t.RankingType = parts[1]
		}
		if len(parts) > 2 {
			limit, err := strconv.Atoi(parts[2])
			if err != nil {
				return Target{}, fmt.Errorf("%w: bad limit in %q", ErrBadTarget, input)
			}
			t.Limit = limit
		}
		return t, nil
	}

	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil || id <= 0 {
			return Target{}, fmt.Errorf("%w: %q", ErrBadTarget, f)
		}
		ids = append(ids, id)
	}
	if len(ids) == 1 {
		return Target{Kind: TargetArtwork, IDs: ids}, nil
	}
	return Target{Kind: TargetMultiple, IDs: ids}, nil
}

// Start dispatches t to the matching Download method.
func (s *Service) Start(ctx context.Context, t Target, req Request) (task.Task, error) {
	switch t.Kind {
	case TargetArtwork:
		if len(t.IDs) != 1 {
			return task.Task{}, fmt.Errorf("%w: artwork target needs one id", ErrBadTarget)
		}
		return s.DownloadArtwork(ctx, t.IDs[0], req)
	case TargetMultiple:
		return s.DownloadMultiple(ctx, t.IDs, req)
	case TargetArtist:
		return s.DownloadArtist(ctx, t.ArtistID, t.Limit, req)
	case TargetRanking:
		return s.DownloadRanking(ctx, t.Mode, t.RankingType, t.Limit, req)
	}
	return task.Task{}, fmt.Errorf("%w: kind %q", ErrBadTarget, t.Kind)
}
