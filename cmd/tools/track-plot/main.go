// Command track-plot renders trajectory and brightness plots from .nsclip or
// .nslog files. It re-runs detection and tracking over the recorded frames,
// picks the longest track, and writes PNGs for eyeballing classifier inputs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/cmplx"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/skywatch-data/nightscan/internal/classify"
	"github.com/skywatch-data/nightscan/internal/detect"
	"github.com/skywatch-data/nightscan/internal/track"
	"github.com/skywatch-data/nightscan/internal/video"
)

func main() {
	outDir := flag.String("o", "plots", "output directory for PNGs")
	flag.Parse()
	if flag.NArg() == 0 {
		log.Fatal("usage: track-plot [-o dir] <clip.nsclip> [...]")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	for _, path := range flag.Args() {
		if err := plotClip(path, *outDir); err != nil {
			log.Fatalf("%s: %v", path, err)
		}
	}
}

func plotClip(path, outDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lr, err := video.OpenLogReader(f)
	if err != nil {
		return err
	}
	log.Printf("%s: %dx%d @%.0ffps, %d frames, label=%q",
		filepath.Base(path), lr.Header.Width, lr.Header.Height,
		lr.Header.FPS, lr.Header.FrameCount, lr.Header.Label)

	t, err := longestTrack(lr)
	if err != nil {
		return err
	}
	if t == nil || t.Len() < 2 {
		return fmt.Errorf("no track found in clip")
	}

	cls := classify.New(classify.DefaultConfig())
	v := cls.Classify(t)
	log.Printf("  track %d: %d samples, verdict %s (%.2f), linearity %.3f, speed %.2f px/frame",
		t.ID, t.Len(), v.Label, v.Confidence, v.Features.Linearity, v.Features.SpeedMean)

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := savePathPlot(t, lr.Header, filepath.Join(outDir, base+"_path.png")); err != nil {
		return err
	}
	if err := saveBrightnessPlot(t, filepath.Join(outDir, base+"_brightness.png")); err != nil {
		return err
	}
	return saveSpectrumPlot(t, filepath.Join(outDir, base+"_spectrum.png"))
}

// longestTrack replays the clip through the detector and tracker and returns
// the track with the most history.
func longestTrack(lr *video.LogReader) (*track.Track, error) {
	detector := detect.NewDiffDetector(detect.DefaultConfig())
	store := track.NewStore(int(lr.Header.FrameCount) + 1)
	cfg := track.DefaultTrackerConfig()
	cfg.MinTrackLength = 2
	tracker := track.NewTracker(store, cfg)

	for {
		frame, err := lr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		dets, err := detector.Detect(frame)
		if err != nil {
			return nil, err
		}
		tracker.Update(dets, frame.Timestamp)
	}

	var best *track.Track
	for _, t := range store.All() {
		if best == nil || t.Len() > best.Len() {
			best = t
		}
	}
	return best, nil
}

func savePathPlot(t *track.Track, header video.LogHeader, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Track %d Trajectory", t.ID)
	p.X.Label.Text = "X (px)"
	p.Y.Label.Text = "Y (px)"
	p.X.Min, p.X.Max = 0, float64(header.Width)
	// Image coordinates grow downward.
	p.Y.Min, p.Y.Max = float64(header.Height), 0

	pts := make(plotter.XYs, 0, t.Len())
	for _, pos := range t.Positions {
		pts = append(pts, plotter.XY{X: pos.X, Y: pos.Y})
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	log.Printf("  wrote %s", path)
	return nil
}

func saveBrightnessPlot(t *track.Track, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Track %d Brightness", t.ID)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Mean luma"

	t0 := t.Positions[0].Timestamp
	pts := make(plotter.XYs, 0, t.Len())
	for i, pos := range t.Positions {
		pts = append(pts, plotter.XY{
			X: pos.Timestamp.Sub(t0).Seconds(),
			Y: t.Brightness[i],
		})
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save brightness plot: %w", err)
	}
	log.Printf("  wrote %s", path)
	return nil
}

// saveSpectrumPlot renders the magnitude spectrum of the mean-subtracted
// brightness series, the same signal the blink detector looks at.
func saveSpectrumPlot(t *track.Track, path string) error {
	n := len(t.Brightness)
	if n < 4 {
		log.Printf("  skipping spectrum: only %d samples", n)
		return nil
	}
	duration := t.Positions[n-1].Timestamp.Sub(t.Positions[0].Timestamp).Seconds()
	if duration <= 0 {
		log.Print("  skipping spectrum: zero duration")
		return nil
	}
	sampleRate := float64(n-1) / duration

	var mean float64
	for _, b := range t.Brightness {
		mean += b
	}
	mean /= float64(n)
	signal := make([]float64, n)
	for i, b := range t.Brightness {
		signal[i] = b - mean
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, signal)

	pts := make(plotter.XYs, 0, len(coeffs)-1)
	for i := 1; i < len(coeffs); i++ {
		pts = append(pts, plotter.XY{
			X: fft.Freq(i) * sampleRate,
			Y: cmplx.Abs(coeffs[i]),
		})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Track %d Brightness Spectrum", t.ID)
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Magnitude"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save spectrum plot: %w", err)
	}
	log.Printf("  wrote %s", path)
	return nil
}
