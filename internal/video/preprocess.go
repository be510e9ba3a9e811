package video

// Preprocessor normalizes raw frames before detection: optional integer
// downsampling (area mean) followed by a box blur to suppress single-pixel
// sensor noise.
type Preprocessor struct {
	// Downsample divides both dimensions by this factor; 1 disables it.
	Downsample int
	// BlurRadius is the box blur radius in pixels; 0 disables blurring.
	BlurRadius int
}

// Process returns a new normalized frame; the input is not modified.
func (p *Preprocessor) Process(f *Frame) *Frame {
	out := f
	if p.Downsample > 1 {
		out = downsample(out, p.Downsample)
	}
	if p.BlurRadius > 0 {
		out = boxBlur(out, p.BlurRadius)
	}
	if out == f {
		out = f.Clone()
	}
	return out
}

func downsample(f *Frame, factor int) *Frame {
	w := f.Width / factor
	h := f.Height / factor
	pix := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, n int
			for dy := 0; dy < factor; dy++ {
				for dx := 0; dx < factor; dx++ {
					sum += int(f.Pix[(y*factor+dy)*f.Width+x*factor+dx])
					n++
				}
			}
			pix[y*w+x] = byte(sum / n)
		}
	}
	return &Frame{Seq: f.Seq, Timestamp: f.Timestamp, Width: w, Height: h, Pix: pix}
}

func boxBlur(f *Frame, radius int) *Frame {
	pix := make([]byte, len(f.Pix))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			var sum, n int
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= f.Width || yy >= f.Height {
						continue
					}
					sum += int(f.Pix[yy*f.Width+xx])
					n++
				}
			}
			pix[y*f.Width+x] = byte(sum / n)
		}
	}
	return &Frame{Seq: f.Seq, Timestamp: f.Timestamp, Width: f.Width, Height: f.Height, Pix: pix}
}
