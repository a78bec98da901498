// Command replayd runs the instant-replay capture pipeline standalone,
// wiring config flags to internal/config the way cmd/main.go wires
// renderer.ShaderOptions, and triggering one save on SIGINT.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/replaycore/replaycore/internal/config"
	"github.com/replaycore/replaycore/internal/errs"
	"github.com/replaycore/replaycore/internal/pipeline"
	"github.com/replaycore/replaycore/internal/savecoord"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	cfg := config.Default()
	fs := flag.NewFlagSet("replayd", flag.ExitOnError)
	config.RegisterFlags(fs, cfg)
	outputFile := fs.String("output", "replay.mp4", "file to write on save")
	help := fs.Bool("help", false, "show help message")
	fs.Parse(os.Args[1:])

	if *help {
		fmt.Println("replaycore instant-replay capture daemon")
		fs.PrintDefaults()
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	videoSrc := pipeline.NewSyntheticVideoSource(pipeline.DefaultWidth, pipeline.DefaultHeight)
	ctrl := pipeline.New(videoSrc)

	log.Println("starting capture pipeline...")
	if err := ctrl.Start(cfg); err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}
	defer func() { ctrl.Stop() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-statusTicker.C:
			log.Println(ctrl.GetStatus())

		case n := <-ctrl.Notifications():
			log.Printf("health: %s (%s) roles=%v: %s", n.Kind, n.StallKind, n.Roles, n.Message)
			if n.Kind == errs.PermanentFailure {
				log.Println("permanent failure declared, shutting down")
				return
			}
			log.Println("restarting pipeline after stall recovery...")
			ctrl.Stop()
			videoSrc = pipeline.NewSyntheticVideoSource(pipeline.DefaultWidth, pipeline.DefaultHeight)
			ctrl = pipeline.New(videoSrc)
			if err := ctrl.Start(cfg); err != nil {
				log.Fatalf("failed to restart pipeline: %v", err)
			}

		case <-sigCh:
			log.Println("signal received, saving replay before shutdown...")
			notify := make(chan savecoord.Result, 1)
			if !ctrl.RequestSave(*outputFile, notify) {
				log.Println("save request rejected (not currently capturing)")
				return
			}
			select {
			case res := <-notify:
				if res.Success {
					log.Printf("saved replay to %s", *outputFile)
				} else {
					log.Printf("save failed: %s: %v", res.Kind, res.Err)
				}
			case <-time.After(30 * time.Second):
				log.Println("save timed out")
			}
			return
		}
	}
}
