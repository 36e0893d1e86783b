package pixiv

import (
	"errors"
	"fmt"
)

// Ranking types.
const (
	RankingIllust = "illust"
	RankingManga  = "manga"
	RankingAll    = "all"
)

// ErrInvalidRanking is returned for unknown ranking modes or types.
var ErrInvalidRanking = errors.New("invalid ranking")

var rankingModes = map[string]bool{
	"day":           true,
	"week":          true,
	"month":         true,
	"day_male":      true,
	"day_female":    true,
	"week_original": true,
	"week_rookie":   true,
	"day_ai":        true,
}

// modes that have a manga variant
var mangaModes = map[string]bool{
	"day":         true,
	"week":        true,
	"month":       true,
	"week_rookie": true,
}

// RankingMode maps a ranking mode and type onto the API mode. Manga rankings
// use the "_manga" suffixed mode; other types use the mode as is.
//
//	RankingMode("week", "manga")  // "week_manga"
//	RankingMode("week", "illust") // "week"
func RankingMode(mode, rankingType string) (string, error) {
	if !rankingModes[mode] {
		return "", fmt.Errorf("%w: mode %q", ErrInvalidRanking, mode)
	}
	switch rankingType {
	case RankingIllust, RankingAll, "":
		return mode, nil
	case RankingManga:
		if !mangaModes[mode] {
			return "", fmt.Errorf("%w: mode %q has no manga ranking", ErrInvalidRanking, mode)
		}
		return mode + "_manga", nil
	}
	return "", fmt.Errorf("%w: type %q", ErrInvalidRanking, rankingType)
}
