package frameloop

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/event"
	"github.com/andresmejia3/rollcall/internal/tracker"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/dustin/go-humanize/english"
	"github.com/schollz/progressbar/v3"
)

var log = event.Log

const megabyte = 1024 * 1024

// DetectionSource turns an encoded frame into face boxes and descriptors.
type DetectionSource interface {
	Detect(frame []byte) ([]types.FaceResult, error)
}

// Matcher labels a descriptor with a known name or types.Unknown.
type Matcher interface {
	Match(descriptor []float64) (string, float64, error)
}

type Tracker interface {
	Process(frame tracker.Frame, obs []tracker.Observation) []tracker.SlotView
}

// Renderer draws the tracker state for the operator. Optional.
type Renderer interface {
	Render(frame []byte, views []tracker.SlotView) error
}

type Config struct {
	// Stride processes every Nth captured frame.
	Stride int
	// Progress, when set, receives a spinner of processed frames.
	Progress io.Writer
	Now      func() time.Time
}

// Stats summarizes a run.
type Stats struct {
	Captured  int
	Processed int
	Faces     int
	Unknown   int
}

// Loop is the synchronous per-frame driver: detect, match, track, render.
type Loop struct {
	cfg      Config
	detector DetectionSource
	matcher  Matcher
	tracker  Tracker
	renderer Renderer

	renderErrors int
}

func New(cfg Config, d DetectionSource, m Matcher, t Tracker, r Renderer) *Loop {
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Loop{cfg: cfg, detector: d, matcher: m, tracker: t, renderer: r}
}

// Buffer pool to reduce GC pressure while streaming
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, megabyte) },
}

// Run reads concatenated JPEG frames from r until EOF or ctx is cancelled. Detection
// failures and descriptor dimension mismatches stop the loop; render failures do not.
func (l *Loop) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats

	var bar *progressbar.ProgressBar
	if l.cfg.Progress != nil {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("🎥 Rollcall watching"),
			progressbar.OptionSetWriter(l.cfg.Progress),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
		)
		defer bar.Finish()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		stats.Captured++
		if stats.Captured%l.cfg.Stride != 0 {
			continue
		}
		stats.Processed++

		buf := frameBufferPool.Get().([]byte)
		if cap(buf) < len(scanner.Bytes()) {
			buf = make([]byte, len(scanner.Bytes()))
		}
		buf = buf[:len(scanner.Bytes())]
		copy(buf, scanner.Bytes())

		_, n, err := l.step(tracker.Frame{Index: stats.Processed, At: l.cfg.Now(), JPEG: buf})
		frameBufferPool.Put(buf[:0])
		if err != nil {
			return stats, err
		}

		stats.Faces += n.faces
		stats.Unknown += n.unknown
		if bar != nil {
			bar.Add(1)
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("frame scanner failed: %w", err)
	}

	log.Infof("frameloop: processed %s of %s", english.Plural(stats.Processed, "frame", ""), english.Plural(stats.Captured, "captured frame", ""))
	return stats, nil
}

// Step runs one frame through the pipeline. Frame.JPEG is only read during the call.
func (l *Loop) Step(frame tracker.Frame) ([]tracker.SlotView, error) {
	views, _, err := l.step(frame)
	return views, err
}

// tally counts the observations of one frame.
type tally struct {
	faces   int
	unknown int // observations that matched nobody, whatever their slot is named
}

func (l *Loop) step(frame tracker.Frame) ([]tracker.SlotView, tally, error) {
	var n tally
	faces, err := l.detector.Detect(frame.JPEG)
	if err != nil {
		return nil, n, fmt.Errorf("detection failed on frame %d: %w", frame.Index, err)
	}

	obs := make([]tracker.Observation, 0, len(faces))
	for _, f := range faces {
		if len(f.Loc) != 4 {
			log.Debugf("frameloop: skipping malformed location %v", f.Loc)
			continue
		}
		o := tracker.Observation{Rect: f.Rect(), Name: types.Unknown}
		if len(f.Vec) > 0 {
			name, dist, err := l.matcher.Match(f.Vec)
			if err != nil {
				// matcher.ErrDimension means the worker and the enrolled snapshot disagree.
				return nil, n, fmt.Errorf("match failed on frame %d: %w", frame.Index, err)
			}
			o.Name, o.Distance = name, dist
		}
		if o.Name == types.Unknown {
			n.unknown++
		}
		obs = append(obs, o)
	}
	n.faces = len(obs)

	views := l.tracker.Process(frame, obs)

	if l.renderer != nil {
		if err := l.renderer.Render(frame.JPEG, views); err != nil {
			l.renderErrors++
			if l.renderErrors == 1 {
				log.Warnf("frameloop: render failed: %v", err)
			} else {
				log.Debugf("frameloop: render failed: %v", err)
			}
		}
	}
	return views, n, nil
}
