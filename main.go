package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/config"
	"pantilt-tracker/internal/executor"
	"pantilt-tracker/internal/link"
	"pantilt-tracker/internal/logging"
	"pantilt-tracker/internal/ptz"
	"pantilt-tracker/internal/remote"
	"pantilt-tracker/internal/rtsp"
	"pantilt-tracker/internal/scheduler"
	"pantilt-tracker/internal/server"
	"pantilt-tracker/internal/tracking"
	"pantilt-tracker/internal/vision"
	"pantilt-tracker/internal/xbee"
)

//go:embed web/*
var staticFiles embed.FS

// maxProbedCameras matches the device indexes the tracker offers.
const maxProbedCameras = 4

func main() {
	flags := config.BindFlags(flag.CommandLine)
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")
	listCameras := flag.Bool("list-cameras", false, "List camera devices that open and exit")
	issueToken := flag.String("issue-token", "", "Print a console token for this operator and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	flag.Parse()

	if *listPorts {
		for _, p := range xbee.ListPorts() {
			fmt.Println(p)
		}
		return
	}
	if *listCameras {
		for _, id := range vision.Probe(maxProbedCameras) {
			fmt.Println(id)
		}
		return
	}

	cfg, err := config.Load(flags.ConfigFile, flags.EnvFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		logrus.Fatal(err)
	}

	logger, closer := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	if *issueToken != "" {
		token, err := server.IssueToken(cfg.Server.AuthSecret, *issueToken, *tokenTTL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to issue token")
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Tracker stopped")
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := cfg.ExecutorSettings()
	if err != nil {
		return err
	}

	radio := xbee.NewRadio(xbee.Config{}, logger)
	gate := link.NewGate(radio, logger)
	exec, err := executor.New(gate, settings, logger)
	if err != nil {
		return err
	}
	sched := scheduler.New(exec, logger)
	defer sched.Close()

	operator, err := ptz.NewRemote(sched, cfg.Server.OperatorStep, logger)
	if err != nil {
		return err
	}
	defer operator.Close()

	deps := server.Deps{
		Controller: operator,
		Scheduler:  sched,
		Link:       exec,
		Stats:      gate,
	}

	var wg sync.WaitGroup

	if cfg.Tracking.Enabled {
		overlays := tracking.NewMailbox[tracking.Annotation]()
		loop, cleanup, err := newTracker(cfg, sched, overlays, logger)
		if err != nil {
			logger.WithError(err).Warn("Tracking unavailable, console only")
		} else {
			defer cleanup()
			deps.Tracker = loop
			deps.Overlays = overlays
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer overlays.Close()
				if err := loop.Run(ctx); err != nil {
					logger.WithError(err).Error("Frame loop failed")
				}
			}()
		}
	}

	if cfg.Server.PreviewURL != "" {
		feed, err := rtsp.NewFeed(cfg.Server.PreviewURL, logger)
		if err == nil {
			err = feed.Start()
		}
		if err != nil {
			logger.WithError(err).Warn("Preview unavailable")
		} else {
			defer feed.Close()
			deps.Preview = feed
		}
	}

	if cfg.Remote.Address != "" {
		client, err := remote.NewValkeyClient(cfg.Remote.Address, cfg.Remote.Password)
		if err != nil {
			logger.WithError(err).Warn("Remote command bus unavailable")
		} else {
			bus := remote.NewValkeyBus(client)
			defer bus.Close()
			bridge := remote.NewBridge(bus, sched, cfg.Remote.Prefix, logger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := bridge.Run(ctx); err != nil {
					logger.WithError(err).Warn("Remote command bridge failed")
				}
				received, rejected := bridge.Stats()
				logger.WithFields(logrus.Fields{
					"received": received,
					"rejected": rejected,
				}).Info("Remote command bridge stopped")
			}()
		}
	}

	// Background tasks must stop before the resources deferred above close.
	defer func() {
		stop()
		wg.Wait()
	}()

	srv, err := server.New(server.Config{
		ListenAddr: cfg.Server.Listen,
		AuthSecret: cfg.Server.AuthSecret,
		ICEServers: cfg.Server.ICEServers,
	}, deps, staticFiles, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"port":        settings.Port,
		"baud_rate":   settings.BaudRate,
		"destination": settings.Destination,
		"tracking":    deps.Tracker != nil,
		"preview":     cfg.Server.PreviewURL,
		"remote":      cfg.Remote.Address,
	}).Info("Pan/tilt tracker starting")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case serveErr = <-errCh:
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.WithError(err).Warn("Console shutdown")
	}
	return serveErr
}

// newTracker opens the camera and detector and builds the frame loop.
func newTracker(cfg *config.Config, sched *scheduler.Scheduler, overlays *tracking.Mailbox[tracking.Annotation], logger *logrus.Logger) (*tracking.Loop, func(), error) {
	priority, err := tracking.ParsePriority(cfg.Tracking.Priority)
	if err != nil {
		return nil, nil, err
	}
	mode, err := tracking.ParseDispatchMode(cfg.Tracking.DispatchMode)
	if err != nil {
		return nil, nil, err
	}
	centering, err := tracking.NewCentering(cfg.Tracking.Step, priority)
	if err != nil {
		return nil, nil, err
	}

	detector, err := vision.NewCascadeDetector(cfg.Tracking.Cascade)
	if err != nil {
		return nil, nil, err
	}
	camera, err := vision.OpenCamera(cfg.Tracking.Camera)
	if err != nil {
		detector.Close()
		return nil, nil, err
	}

	loop := tracking.NewLoop(camera, detector, sched, overlays, tracking.LoopConfig{
		Centering: centering,
		Mode:      mode,
		Pause:     cfg.Tracking.Pause,
		Enabled:   cfg.Tracking.Active,
	}, logger)

	cleanup := func() {
		camera.Close()
		detector.Close()
	}
	return loop, cleanup, nil
}
