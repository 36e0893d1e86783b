package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/handiism/pixiv-downloader/internal/app"
	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/server"
)

func main() {
	var (
		configFlag = flag.String("config", "", "Path to config file")
		addrFlag   = flag.String("addr", "", "Listen address (overrides config)")
	)
	flag.Parse()

	live, err := config.NewLive(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(live, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()
	go a.Run(ctx)

	// SIGHUP re-reads the config file
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := live.Reload(); err != nil {
				a.Logger.Error("reload config", "error", err)
				continue
			}
			a.Logger.Info("config reloaded")
		}
	}()

	srv := server.New(a.Service, a.Progress, a.Settings, a.Logger.With("component", "server"))
	if err := srv.ListenAndServe(ctx, *addrFlag); err != nil {
		a.Logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
