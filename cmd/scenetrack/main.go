// Command scenetrack replays recorded camera frames through a tracking scene,
// persists the reliable tracks to SQLite and renders run reports.
//
// The input is JSON lines, one camera frame per line:
//
//	{"id":"cam1","timestamp":"2025-06-01T08:00:00Z","frame_rate":10,
//	 "objects":{"person":[{"translation":[1,2,0],"size":[0.5,0.5,1.8],"confidence":0.9}]}}
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/scenetrack/internal/config"
	"github.com/banshee-data/scenetrack/internal/monitoring"
	"github.com/banshee-data/scenetrack/internal/report"
	"github.com/banshee-data/scenetrack/internal/scene"
	"github.com/banshee-data/scenetrack/internal/security"
	"github.com/banshee-data/scenetrack/internal/timeutil"
	"github.com/banshee-data/scenetrack/internal/tracking/debug"
	"github.com/banshee-data/scenetrack/internal/trackstore"
	"github.com/banshee-data/scenetrack/internal/version"
)

const maxLineBytes = 4 << 20

func main() {
	var (
		configPath  string
		inputPath   string
		dbPath      string
		reportDir   string
		sceneName   string
		cameras     string
		useTracker  bool
		debugOut    string
		quiet       bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", config.DefaultConfigPath, "tracker config JSON")
	flag.StringVar(&inputPath, "input", "-", "camera frames as JSON lines (- for stdin)")
	flag.StringVar(&dbPath, "db", "tracks.db", "path to sqlite db for track history")
	flag.StringVar(&reportDir, "report-dir", "", "write trajectory plots and a track-count chart here")
	flag.StringVar(&sceneName, "scene", "scene", "scene name")
	flag.StringVar(&cameras, "cameras", "", "comma-separated camera ids to accept (default: any)")
	flag.BoolVar(&useTracker, "use-tracker", true, "associate detections (false trusts detection ids)")
	flag.StringVar(&debugOut, "debug-out", "", "write per-cycle association internals as JSON lines")
	flag.BoolVar(&quiet, "quiet", false, "suppress engine logging")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.String())
		return
	}
	if quiet {
		monitoring.SetLogger(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, runOptions{
		configPath: configPath,
		inputPath:  inputPath,
		dbPath:     dbPath,
		reportDir:  reportDir,
		sceneName:  sceneName,
		cameras:    splitList(cameras),
		useTracker: useTracker,
		debugOut:   debugOut,
	}); err != nil {
		log.Fatalf("scenetrack: %v", err)
	}
}

type runOptions struct {
	configPath string
	inputPath  string
	dbPath     string
	reportDir  string
	sceneName  string
	cameras    []string
	useTracker bool
	debugOut   string
}

func run(ctx context.Context, o runOptions) error {
	tc, err := config.LoadTrackerConfig(o.configPath)
	if err != nil {
		return err
	}

	dbPath, err := security.ResolveOutputPath(o.dbPath)
	if err != nil {
		return fmt.Errorf("-db: %w", err)
	}
	store, err := trackstore.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	in := io.Reader(os.Stdin)
	if o.inputPath != "-" {
		f, err := os.Open(o.inputPath)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	opts := scene.Options{
		Name:       o.sceneName,
		Cameras:    o.cameras,
		Tracker:    tc,
		UseTracker: o.useTracker,
		Sink:       store,
		Clock:      timeutil.RealClock{},
	}
	if o.debugOut != "" {
		path, err := security.ResolveOutputPath(o.debugOut)
		if err != nil {
			return fmt.Errorf("-debug-out: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create debug output: %w", err)
		}
		defer f.Close()
		opts.OnDebugFrame = debugWriter(f)
	}

	sc, err := scene.New(opts)
	if err != nil {
		return err
	}
	runID, err := store.StartRun(ctx, sc.ID(), sc.Name())
	if err != nil {
		return err
	}
	log.Printf("scene %s: run %s", sc.Name(), runID)

	frames, err := replay(ctx, sc, in, tc.GetTimeChunkingEnabled(), tc.GetTimeChunkingInterval())
	sc.Close()
	if err != nil {
		return err
	}
	log.Printf("replayed %d frames", frames)
	monitoring.LogCounters(monitoring.Default)

	if o.reportDir == "" {
		return nil
	}
	dir, err := security.ResolveOutputPath(o.reportDir)
	if err != nil {
		return fmt.Errorf("-report-dir: %w", err)
	}
	files, err := report.Generate(ctx, store, runID, dir)
	if err != nil {
		return err
	}
	for _, p := range files.Trajectories {
		log.Printf("wrote %s", p)
	}
	if files.CountChart != "" {
		log.Printf("wrote %s", files.CountChart)
	}
	return nil
}

// replay feeds every frame in r to sc. With time chunking, chunks are
// flushed on the recording's own clock: whenever a frame's timestamp passes
// the next interval boundary.
func replay(ctx context.Context, sc *scene.Scene, r io.Reader, chunked bool, interval time.Duration) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	var (
		n         int
		nextFlush time.Time
	)
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var f scene.CameraFrame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}

		if chunked {
			if nextFlush.IsZero() {
				nextFlush = f.Timestamp.Add(interval)
			}
			for !f.Timestamp.Before(nextFlush) {
				sc.Flush(ctx)
				nextFlush = nextFlush.Add(interval)
			}
		}

		if err := sc.ProcessCameraFrame(ctx, f); err != nil {
			if errors.Is(err, scene.ErrUnknownCamera) {
				log.Printf("line %d: %v", line, err)
				continue
			}
			// A stale frame fails only its own cycle.
			log.Printf("line %d: camera %s: %v", line, f.CameraID, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read input: %w", err)
	}
	sc.Flush(ctx)
	return n, nil
}

// debugWriter encodes debug frames as JSON lines. Categories are tracked
// concurrently under time chunking, so writes are serialised.
func debugWriter(w io.Writer) func(string, *debug.Frame) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(category string, f *debug.Frame) {
		mu.Lock()
		defer mu.Unlock()
		rec := struct {
			Category string `json:"category"`
			*debug.Frame
		}{category, f}
		if err := enc.Encode(rec); err != nil {
			log.Printf("debug output: %v", err)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
