// Command gen-skylog generates sample .nslog recordings for testing replay.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"

	"github.com/skywatch-data/nightscan/internal/video"
)

func main() {
	output := flag.String("o", "sample.nslog", "output path")
	frames := flag.Uint64("n", 300, "number of frames")
	width := flag.Int("w", 640, "frame width")
	height := flag.Int("h", 480, "frame height")
	fps := flag.Float64("fps", 30, "frame rate")
	seed := flag.Int64("seed", 1, "noise seed")
	flag.Parse()

	objects := []video.SyntheticObject{
		{StartX: 30, StartY: float64(*height) / 3, VX: 2.2, VY: 0.3, Radius: 2, Brightness: 210},
		{StartX: float64(*width) - 30, StartY: 60, VX: -2.8, VY: 0.9, Radius: 3, Brightness: 240, BlinkHz: 1.2},
		{StartX: float64(*width) / 2, StartY: float64(*height) / 2, VX: 1.0, VY: -0.5, Radius: 2, Brightness: 200, Jitter: 1.5},
	}
	src := video.NewSyntheticSource(*width, *height, *fps, *seed, objects, *frames)

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create %s: %v", *output, err)
	}
	defer f.Close()

	lw, err := video.NewLogWriter(f, *width, *height, *fps)
	if err != nil {
		log.Fatalf("open log writer: %v", err)
	}

	ctx := context.Background()
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("generate frame: %v", err)
		}
		if err := lw.Append(frame); err != nil {
			log.Fatalf("append frame %d: %v", frame.Seq, err)
		}
		if (frame.Seq+1)%100 == 0 {
			log.Printf("%d/%d frames", frame.Seq+1, *frames)
		}
	}
	if err := lw.Close(); err != nil {
		log.Fatalf("finalize log: %v", err)
	}
	log.Printf("✓ Created: %s (%d frames)", *output, lw.FrameCount())
}
