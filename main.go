package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/skywatch-data/nightscan/internal/classify"
	"github.com/skywatch-data/nightscan/internal/config"
	"github.com/skywatch-data/nightscan/internal/db"
	"github.com/skywatch-data/nightscan/internal/detect"
	"github.com/skywatch-data/nightscan/internal/monitoring"
	"github.com/skywatch-data/nightscan/internal/pipeline"
	"github.com/skywatch-data/nightscan/internal/record"
	"github.com/skywatch-data/nightscan/internal/track"
	"github.com/skywatch-data/nightscan/internal/version"
	"github.com/skywatch-data/nightscan/internal/video"
	"github.com/skywatch-data/nightscan/internal/web"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	configPath = flag.String("config", "", "Path to tuning config JSON (optional)")
	dbPath     = flag.String("db", "nightscan.db", "Path to the events database")
	clipsDir   = flag.String("clips", "clips", "Directory for sealed event clips")
	replayPath = flag.String("replay", "", "Replay a recorded .nslog file instead of a live source")
	synthetic  = flag.Bool("synthetic", false, "Run against the built-in synthetic sky")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	if *debug {
		monitoring.SetDebug(true)
	}
	log.Printf("nightscan %s (%s)", version.Version, version.GitSHA)

	params, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	source, err := openSource(params)
	if err != nil {
		log.Fatal(err)
	}
	defer source.Close()

	if err := os.MkdirAll(*clipsDir, 0o755); err != nil {
		log.Fatalf("Failed to create clips directory: %v", err)
	}

	database, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	hub := web.NewHub()
	pipe := buildPipeline(params, source, database, hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx); err != nil {
			log.Printf("Pipeline stopped: %v", err)
		}
		// A finished source (replay EOF) should bring the process down too.
		stop()
	}()

	server := &http.Server{
		Addr:    *listen,
		Handler: web.NewServer(database, pipe, params, hub, *clipsDir),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	wg.Wait()

	stats := pipe.Stats()
	log.Printf("Processed %d frames, recorded %d events", stats.FramesProcessed, stats.EventsRecorded)
}

// openSource picks the frame source from the flags. There is no camera
// driver here; captures are replayed from .nslog files or generated.
func openSource(params config.Params) (video.FrameSource, error) {
	switch {
	case *replayPath != "" && *synthetic:
		return nil, fmt.Errorf("-replay and -synthetic are mutually exclusive")
	case *replayPath != "":
		src, err := video.OpenReplaySource(*replayPath, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open replay source: %w", err)
		}
		return video.WithGrabTimeout(src, params.GrabTimeout), nil
	case *synthetic:
		src := video.NewSyntheticSource(640, 480, params.FramesPerSecond, time.Now().UnixNano(), []video.SyntheticObject{
			{StartX: 40, StartY: 200, VX: 2.5, VY: 0.4, Radius: 2, Brightness: 220},                // satellite-like
			{StartX: 600, StartY: 80, VX: -3.0, VY: 1.0, Radius: 3, Brightness: 240, BlinkHz: 1.2}, // strobing aircraft
		}, 0)
		src.Paced = true
		return video.WithGrabTimeout(src, params.GrabTimeout), nil
	default:
		return nil, fmt.Errorf("a frame source is required: pass -replay <file.nslog> or -synthetic")
	}
}

func buildPipeline(params config.Params, source video.FrameSource, database *db.DB, hub *web.Hub) *pipeline.Pipeline {
	ring := video.NewRingBuffer(params.RingCapacity)
	store := track.NewStore(params.MaxHistoryLength)
	tracker := track.NewTracker(store, track.TrackerConfig{
		MaxMatchDistance:       params.MaxMatchDistance,
		DisappearTimeoutFrames: params.DisappearTimeoutFrames,
		MinTrackLength:         params.MinTrackLength,
		GracePeriodFrames:      params.GracePeriodFrames,
	})
	classifier := classify.New(classify.Config{
		BlinkFreqLow:           params.BlinkFreqLow,
		BlinkFreqHigh:          params.BlinkFreqHigh,
		BlinkMagnitudeRatio:    params.BlinkMagnitudeRatio,
		MinBlinkSamples:        params.MinBlinkSamples,
		LinearityThreshold:     params.LinearityThreshold,
		ModerateLinearity:      params.ModerateLinearity,
		SatelliteSpeedMin:      params.SatelliteSpeedMin,
		SatelliteSpeedMax:      params.SatelliteSpeedMax,
		SpeedVarianceMax:       params.SpeedVarianceMax,
		AccelVarianceThreshold: params.AccelVarianceThreshold,
		MinSamplesForClass:     params.MinSamplesForClass,
		FramesPerSecond:        params.FramesPerSecond,
	})
	recorder := record.New(record.Config{
		Dir:        *clipsDir,
		PreBuffer:  params.PreBuffer,
		PostBuffer: params.PostBuffer,
		FPS:        params.FramesPerSecond,
	}, ring, database)
	detector := detect.NewDiffDetector(detect.Config{
		DiffThreshold:  params.DiffThreshold,
		MinBlobArea:    params.MinBlobArea,
		MaxBlobArea:    params.MaxBlobArea,
		MinCircularity: params.MinCircularity,
	})

	var pre *video.Preprocessor
	if params.DownsampleFactor > 1 || params.BlurRadius > 0 {
		pre = &video.Preprocessor{Downsample: params.DownsampleFactor, BlurRadius: params.BlurRadius}
	}

	return pipeline.New(pipeline.Config{
		Params:       params,
		Source:       source,
		Preprocessor: pre,
		Detector:     detector,
		Tracker:      tracker,
		Tracks:       store,
		Classifier:   classifier,
		Recorder:     recorder,
		Ring:         ring,
		Sink:         hub,
	})
}
