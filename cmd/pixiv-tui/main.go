package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/handiism/pixiv-downloader/internal/app"
	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/tui"
)

func main() {
	configFlag := flag.String("config", "", "Path to config file")
	flag.Parse()

	live, err := config.NewLive(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// the alt screen owns stdout, so logs go to a file
	var logOut io.Writer = io.Discard
	dataDir := live.Get().DataDir
	if err := os.MkdirAll(dataDir, 0755); err == nil {
		if f, err := os.OpenFile(filepath.Join(dataDir, "tui.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			defer f.Close()
			logOut = f
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a, err := app.New(live, logOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()
	go a.Run(ctx)

	if err := tui.Run(ctx, a.Service, a.Progress, a.Settings); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
