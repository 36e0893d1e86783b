package tui

import (
	"fmt"

	"github.com/handiism/pixiv-downloader/internal/task"
)

// Level is the severity of a log line.
type Level int

const (
	LevelVerbose Level = iota
	LevelInfo
	LevelSuccess
	LevelWarning
	LevelError
)

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   Level
}

// Events derives the log lines describing the change from prev to cur.
// prev is the zero Task for the first projection.
func Events(prev, cur task.Task) []LogEntry {
	var out []LogEntry

	if cur.CompletedFiles > prev.CompletedFiles {
		if cur.Kind == task.KindSingle {
			out = append(out, LogEntry{
				Message: fmt.Sprintf("Page %d/%d done", cur.CompletedFiles, cur.TotalFiles),
				Level:   LevelVerbose,
			})
		}
	}
	for _, item := range newRecent(prev.Recent, cur.Recent) {
		if item.Skipped {
			out = append(out, LogEntry{Message: fmt.Sprintf("Skipped %d (already downloaded)", item.ID), Level: LevelVerbose})
			continue
		}
		title := item.Title
		if title == "" {
			title = fmt.Sprint(item.ID)
		}
		out = append(out, LogEntry{Message: "Downloaded " + title, Level: LevelSuccess})
	}
	if n := cur.FailedFiles - prev.FailedFiles; n > 0 {
		out = append(out, LogEntry{Message: fmt.Sprintf("%d failed", n), Level: LevelWarning})
	}

	if cur.State != prev.State && prev.State != "" {
		out = append(out, stateEntry(cur))
	}
	if cur.Warning != "" && cur.Warning != prev.Warning {
		out = append(out, LogEntry{Message: cur.Warning, Level: LevelWarning})
	}
	return out
}

func stateEntry(t task.Task) LogEntry {
	switch t.State {
	case task.StateCompleted:
		return LogEntry{Message: fmt.Sprintf("Completed %d/%d", t.CompletedFiles, t.TotalFiles), Level: LevelSuccess}
	case task.StatePartial:
		return LogEntry{Message: fmt.Sprintf("Finished with %d failures", t.FailedFiles), Level: LevelWarning}
	case task.StateFailed:
		msg := "Failed"
		if t.Error != "" {
			msg += ": " + t.Error
		}
		return LogEntry{Message: msg, Level: LevelError}
	case task.StateCancelled:
		return LogEntry{Message: "Cancelled", Level: LevelWarning}
	}
	return LogEntry{Message: "State: " + string(t.State), Level: LevelInfo}
}

// newRecent returns the entries of cur not present in prev. Both are
// windows over the same append-only sequence.
func newRecent(prev, cur []task.RecentItem) []task.RecentItem {
	if len(prev) == 0 {
		return cur
	}
	last := prev[len(prev)-1]
	for i := len(cur) - 1; i >= 0; i-- {
		if cur[i].ID == last.ID && cur[i].CompletedAt.Equal(last.CompletedAt) {
			return cur[i+1:]
		}
	}
	return cur
}
