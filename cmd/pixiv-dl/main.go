package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/handiism/pixiv-downloader/internal/app"
	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/registry"
	"github.com/handiism/pixiv-downloader/internal/service"
	"github.com/handiism/pixiv-downloader/internal/task"
	"github.com/handiism/pixiv-downloader/internal/tui"
	"github.com/schollz/progressbar/v3"
)

var (
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

func main() {
	// Command line flags
	var (
		configFlag      = flag.String("config", "", "Path to config file")
		outputFlag      = flag.String("output", "", "Downloads directory (overrides config)")
		sizeFlag        = flag.String("size", "", "Image size: original, large, medium, square_medium")
		noSkipFlag      = flag.Bool("no-skip", false, "Download artworks already in the registry")
		concurrencyFlag = flag.Int("concurrency", 0, "Artworks downloaded at once in a batch (overrides config)")
		artistFlag      = flag.Int64("artist", 0, "Download an artist's artworks")
		rankingFlag     = flag.String("ranking", "", "Download a ranking: day, week, month, ...")
		typeFlag        = flag.String("type", "", "Ranking type: illust, manga, all")
		limitFlag       = flag.Int("limit", 0, "Maximum artworks for -artist and -ranking (0 = all)")
		resumeFlag      = flag.String("resume", "", "Resume the task with this id")
		registryFlag    = flag.String("registry", "", "Registry action: stats, export, import, rebuild, cleanup, migrate, compare, rollback")
		fileFlag        = flag.String("file", "", "Snapshot file for -registry export/import")
		toFlag          = flag.String("to", "", "Destination backend for -registry migrate: json, sqlite")
		modeFlag        = flag.String("mode", string(registry.MigrateMerge), "Migration mode: merge, overwrite")
		verboseFlag     = flag.Bool("verbose", false, "Show verbose output")
	)

	flag.Parse()

	if *registryFlag == "" && *resumeFlag == "" && *artistFlag == 0 && *rankingFlag == "" && flag.NArg() == 0 {
		fmt.Println("Pixiv Downloader - Download artworks from pixiv")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  pixiv-dl <artwork id | id,id,... | pixiv URL> [options]")
		fmt.Println("  pixiv-dl -artist <id> [-limit n] [options]")
		fmt.Println("  pixiv-dl -ranking <mode> [-type manga] [-limit n] [options]")
		fmt.Println("  pixiv-dl -resume <task id>")
		fmt.Println("  pixiv-dl -registry <action> [-file path] [-to backend]")
		fmt.Println()
		fmt.Println("For interactive mode, use: pixiv-tui")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Load config
	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// Apply flags
	if *outputFlag != "" {
		settings.DownloadsPath = *outputFlag
	}
	if *sizeFlag != "" {
		settings.ImageSize = *sizeFlag
	}
	if *noSkipFlag {
		settings.SkipExisting = false
	}
	if *concurrencyFlag > 0 {
		settings.BatchConcurrency = *concurrencyFlag
	}
	if *verboseFlag {
		settings.LogLevel = "debug"
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	// Handle interrupts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(config.NewStatic(settings), os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()
	go a.Run(ctx)

	if *registryFlag != "" {
		if err := runRegistry(ctx, a.Service, *registryFlag, *fileFlag, *toFlag, registry.MigrateMode(*modeFlag)); err != nil {
			errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("Pixiv Downloader")
	fmt.Println(strings.Repeat("━", 40))
	fmt.Println()

	var t task.Task
	if *resumeFlag != "" {
		t, err = a.Service.Resume(ctx, *resumeFlag)
	} else {
		var target service.Target
		switch {
		case *artistFlag > 0:
			target = service.Target{Kind: service.TargetArtist, ArtistID: *artistFlag, Limit: *limitFlag}
		case *rankingFlag != "":
			target = service.Target{Kind: service.TargetRanking, Mode: *rankingFlag, RankingType: *typeFlag, Limit: *limitFlag}
		default:
			target, err = service.ParseTarget(strings.Join(flag.Args(), ","))
		}
		if err == nil {
			t, err = a.Service.Start(ctx, target, service.Request{})
		}
	}
	if err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	infoColor.Printf("› %s\n", t.Label())
	code := report(watch(ctx, a, t, *verboseFlag))
	a.Close()
	os.Exit(code)
}

// watch renders the task's progress until it stops. An interrupt pauses
// the task so it can be resumed later.
func watch(ctx context.Context, a *app.App, t task.Task, verbose bool) task.Task {
	sub := a.Progress.Subscribe(t.ID)
	defer a.Progress.Unsubscribe(sub)
	if cur, err := a.Service.Task(t.ID); err == nil {
		t = cur
	}

	bar := progressbar.NewOptions(max(t.TotalFiles, 1),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
	)
	var prev task.Task
	show := func(cur task.Task) {
		for _, e := range tui.Events(prev, cur) {
			if e.Level == tui.LevelVerbose && !verbose {
				continue
			}
			bar.Clear()
			printEntry(e)
		}
		prev = cur
		bar.ChangeMax(max(cur.TotalFiles, 1))
		bar.Set(cur.CompletedFiles + cur.FailedFiles)
	}
	show(t)

	for !t.State.Terminal() && t.State != task.StatePaused {
		select {
		case <-ctx.Done():
			fmt.Println()
			warningColor.Println("Interrupted, pausing...")
			a.Service.Pause(t.ID)
			waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.Executor.Wait(waitCtx, t.ID)
			cancel()
			t, _ = a.Service.Task(t.ID)
			bar.Finish()
			return t

		case cur, ok := <-sub.C:
			if !ok {
				// closed on a terminal or paused projection
				if cur, err := a.Service.Task(t.ID); err == nil {
					show(cur)
					t = cur
				}
				bar.Finish()
				return t
			}
			t = cur
			show(t)
		}
	}
	bar.Finish()
	return t
}

func printEntry(e tui.LogEntry) {
	switch e.Level {
	case tui.LevelError:
		errorColor.Println("✗ " + e.Message)
	case tui.LevelWarning:
		warningColor.Println("! " + e.Message)
	case tui.LevelSuccess:
		successColor.Println("✓ " + e.Message)
	case tui.LevelInfo:
		infoColor.Println("› " + e.Message)
	default:
		dimColor.Println("  " + e.Message)
	}
}

// report prints the summary and returns the exit code.
func report(t task.Task) int {
	fmt.Println()
	fmt.Println(strings.Repeat("━", 40))
	summary := fmt.Sprintf("%d/%d files, %d failed, %d skipped (%.2f MB)",
		t.CompletedFiles, t.TotalFiles, t.FailedFiles, t.SkippedCount, float64(t.DownloadedBytes)/1024/1024)
	if t.Warning != "" {
		warningColor.Println("! " + t.Warning)
	}

	switch t.State {
	case task.StateCompleted:
		successColor.Println("Complete! " + summary)
		return 0
	case task.StatePartial:
		warningColor.Println("Finished with failures: " + summary)
		fmt.Printf("   resume with: pixiv-dl -resume %s\n", t.ID)
		return 2
	case task.StatePaused, task.StatePausing:
		warningColor.Println("Paused: " + summary)
		fmt.Printf("   resume with: pixiv-dl -resume %s\n", t.ID)
		return 130
	case task.StateCancelled:
		warningColor.Println("Cancelled.")
		return 130
	}
	errorColor.Printf("Failed: %s\n", t.Error)
	return 1
}

func runRegistry(ctx context.Context, svc *service.Service, action, file, to string, mode registry.MigrateMode) error {
	var result any
	var err error
	switch action {
	case "stats":
		result, err = svc.RegistryStats(ctx)
	case "export":
		var snap *registry.Snapshot
		snap, err = svc.ExportRegistry(ctx)
		if err == nil && file != "" {
			if err = registry.WriteSnapshot(file, snap); err == nil {
				successColor.Printf("✓ exported %d artworks to %s\n", snap.Artworks(), file)
				return nil
			}
		}
		result = snap
	case "import":
		if file == "" {
			return errors.New("-file is required for import")
		}
		var snap *registry.Snapshot
		if snap, err = registry.ReadSnapshot(file); err == nil {
			result, err = svc.ImportRegistry(ctx, snap)
		}
	case "rebuild":
		result, err = svc.RebuildRegistry(ctx)
	case "cleanup":
		result, err = svc.CleanupRegistry(ctx)
	case "migrate":
		if to == "" {
			return errors.New("-to is required for migrate")
		}
		result, err = svc.MigrateRegistry(ctx, to, mode)
	case "compare":
		result, err = svc.CompareRegistries(ctx)
	case "rollback":
		if file == "" {
			return errors.New("-file is required for rollback")
		}
		if err = svc.RollbackRegistry(ctx, to, file); err == nil {
			result = map[string]string{"restored": file}
		}
	default:
		return fmt.Errorf("unknown registry action %q", action)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
