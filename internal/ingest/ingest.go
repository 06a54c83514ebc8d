// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package ingest discovers audio files, analyses the new ones and keeps the
// metadata store and the persisted similarity index in step.
//
// One run walks a library sub-tree in lexicographic order, resolves cue
// sheets into virtual tracks, analyses unseen units on a bounded worker
// pool, commits features in batches, writes tags, drops stale rows and
// finally rebuilds the index when anything changed. Per-file failures are
// logged and counted; store and index failures end the run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tomtom215/timbre/internal/config"
	"github.com/tomtom215/timbre/internal/cue"
	"github.com/tomtom215/timbre/internal/engine"
	"github.com/tomtom215/timbre/internal/featurecache"
	"github.com/tomtom215/timbre/internal/index"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/metrics"
	"github.com/tomtom215/timbre/internal/normalize"
	"github.com/tomtom215/timbre/internal/tags"
)

// ErrSourceMissing is returned when the directory to ingest does not exist.
var ErrSourceMissing = errors.New("ingest: source directory does not exist")

// progressInterval throttles progress log lines.
const progressInterval = 10 * time.Second

// Options select what one run does.
type Options struct {
	RemoveStale  bool
	MetadataOnly bool
	// Ignore, when non-nil, replaces every ignore flag with these file
	// prefixes after the run.
	Ignore   []string
	Progress Progress
}

// Report summarises one run.
type Report struct {
	RunID       string        `json:"run_id"`
	Discovered  int           `json:"discovered"`
	Analysed    int           `json:"analysed"`
	Cached      int           `json:"cached"`
	Failed      int           `json:"failed"`
	Removed     int           `json:"removed"`
	TagsUpdated int           `json:"tags_updated"`
	Ignored     int           `json:"ignored"`
	Rebuilt     bool          `json:"rebuilt"`
	Tracks      int           `json:"tracks"`
	Duration    time.Duration `json:"duration"`
}

// Deps are the collaborators of an Ingester. Resolver, Transcoder and
// Cache may be nil.
type Deps struct {
	Store      *library.Store
	Analyzer   engine.Analyzer
	NewEngine  func() engine.SimilarityEngine
	Resolver   *cue.Resolver
	Transcoder cue.Transcoder
	Tags       tags.Reader
	Cache      *featurecache.Cache
	Normalizer *normalize.Normalizer
	RNG        *rand.Rand
	// EngineTag keys the feature cache; change it when features change.
	EngineTag string
}

// Ingester runs ingestion against one library.
type Ingester struct {
	cfg  *config.Config
	deps Deps
}

// New returns an Ingester for cfg.
func New(cfg *config.Config, deps Deps) *Ingester {
	if deps.RNG == nil {
		deps.RNG = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)) //nolint:gosec // sampling only
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(cfg.Normalize.AlbumRemove, cfg.Normalize.TitleRemove)
	}
	if deps.Tags == nil {
		deps.Tags = tags.FileReader{}
	}
	return &Ingester{cfg: cfg, deps: deps}
}

// unit is one analysable item: a plain file or a cue virtual track.
type unit struct {
	key    string // metadata store key
	source string // absolute physical file
	path   string // file to analyse and read tags from
	clip   *cue.VirtualTrack
	err    error
	done   bool // features stored this run
}

func (u *unit) fragment() string {
	if u.clip == nil {
		return ""
	}
	return u.clip.Range
}

// Ingest runs one ingestion over root, which must be the library root or
// lie below it. An empty root means the library root.
func (in *Ingester) Ingest(ctx context.Context, root string, opts Options) (*Report, error) {
	started := time.Now()
	runID := logging.GenerateRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := logging.Ctx(ctx).With().Str("component", "ingest").Logger()

	if opts.Progress == nil {
		opts.Progress = nopProgress{}
	}
	report := &Report{RunID: runID}
	defer func() {
		report.Duration = time.Since(started)
		metrics.IngestDuration.Observe(report.Duration.Seconds())
	}()

	libRoot, err := filepath.Abs(in.cfg.Paths.Library)
	if err != nil {
		return report, fmt.Errorf("resolve library root: %w", err)
	}
	if root == "" {
		root = libRoot
	}
	if root, err = filepath.Abs(root); err != nil {
		return report, fmt.Errorf("resolve %s: %w", root, err)
	}
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, fmt.Errorf("%s: %w", root, ErrSourceMissing)
		}
		return report, fmt.Errorf("stat %s: %w", root, err)
	}
	if rel, err := filepath.Rel(libRoot, root); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return report, fmt.Errorf("%s is outside the library %s", root, libRoot)
	}

	log.Info().Str("root", root).Bool("meta_only", opts.MetadataOnly).Bool("remove_stale", opts.RemoveStale).Msg("Ingestion started")

	units, err := in.discover(ctx, libRoot, root, opts.MetadataOnly)
	if err != nil {
		return report, err
	}
	report.Discovered = len(units)
	log.Info().Int("units", len(units)).Msg("Discovery complete")

	if opts.RemoveStale && !opts.MetadataOnly {
		removed, err := in.deps.Store.RemoveStale(ctx, libRoot)
		if err != nil {
			return report, fmt.Errorf("remove stale tracks: %w", err)
		}
		report.Removed = removed
		for range removed {
			metrics.RecordIngestFile(metrics.IngestResultRemoved)
		}
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("Removed stale tracks")
		}
	}

	if len(units) > 0 {
		if err := in.process(ctx, libRoot, units, opts, report); err != nil {
			return report, err
		}
	}

	if opts.Ignore != nil {
		n, err := in.deps.Store.SetIgnore(ctx, opts.Ignore)
		if err != nil {
			return report, fmt.Errorf("set ignore flags: %w", err)
		}
		report.Ignored = n
	}

	changed := report.Analysed+report.Cached > 0 || report.Removed > 0
	if changed && !opts.MetadataOnly {
		if err := in.rebuild(ctx); err != nil {
			return report, err
		}
		report.Rebuilt = true
	}

	if report.Tracks, err = in.deps.Store.Count(ctx); err != nil {
		return report, err
	}
	if err := in.deps.Cache.RunGC(); err != nil {
		log.Debug().Err(err).Msg("Feature cache GC failed")
	}

	log.Info().
		Int("analysed", report.Analysed).
		Int("cached", report.Cached).
		Int("failed", report.Failed).
		Int("removed", report.Removed).
		Int("tags_updated", report.TagsUpdated).
		Int("tracks", report.Tracks).
		Bool("rebuilt", report.Rebuilt).
		Dur("duration", time.Since(started)).
		Msg("Ingestion complete")
	return report, nil
}

// process materialises clips, analyses and tags the discovered units. The
// scratch directory lives exactly as long as this call.
func (in *Ingester) process(ctx context.Context, libRoot string, units []unit, opts Options, report *Report) error {
	scratch, err := os.MkdirTemp(in.cfg.Paths.Tmp, "timbre-cue-")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logging.Warn().Err(err).Str("dir", scratch).Msg("Failed to remove scratch directory")
		}
	}()

	in.materialize(ctx, libRoot, scratch, units, opts.Progress)

	if !opts.MetadataOnly {
		if err := in.analyse(ctx, units, opts.Progress, report); err != nil {
			return err
		}
	}
	return in.writeTags(ctx, units, opts, report)
}

// discover walks root and returns the units that need work. Keys are
// slash-separated paths relative to libRoot.
func (in *Ingester) discover(ctx context.Context, libRoot, root string, metaOnly bool) ([]unit, error) {
	cueAware := in.deps.Resolver.Enabled()
	var units []unit

	want := func(key string) (bool, error) {
		if metaOnly {
			return true, nil
		}
		seen, err := in.deps.Store.AlreadyAnalyzed(ctx, key)
		return !seen, err
	}

	for p := range walkAudio(root) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(libRoot, p)
		if err != nil {
			return nil, fmt.Errorf("relativise %s: %w", p, err)
		}
		rel = filepath.ToSlash(rel)

		if cueAware && companionCue(p) {
			vts, err := in.deps.Resolver.ResolveCueTracks(ctx, rel)
			if err != nil {
				logging.Warn().Err(err).Str("file", rel).Msg("Cue resolution failed, skipping file")
				continue
			}
			if len(vts) > 0 {
				for i := range vts {
					ok, err := want(vts[i].Key())
					if err != nil {
						return nil, err
					}
					if ok {
						vt := vts[i]
						units = append(units, unit{key: vt.Key(), source: p, clip: &vt})
					}
				}
				continue
			}
			logging.Debug().Str("file", rel).Msg("No cue tracks known, treating as a plain file")
		}

		ok, err := want(rel)
		if err != nil {
			return nil, err
		}
		if ok {
			units = append(units, unit{key: rel, source: p, path: p})
		}
	}
	return units, nil
}

func (in *Ingester) threads() int {
	if n := in.cfg.Analysis.Threads; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func (in *Ingester) excerpt() engine.Excerpt {
	return engine.Excerpt{
		Length: float64(in.cfg.Analysis.ExcerptLength),
		Start:  float64(in.cfg.Analysis.ExcerptStart),
	}
}

// materialize cuts every clip unit into scratch. Failures are recorded on
// the unit.
func (in *Ingester) materialize(ctx context.Context, libRoot, scratch string, units []unit, progress Progress) {
	var clips []int
	for i := range units {
		if units[i].clip != nil {
			clips = append(clips, i)
		}
	}
	if len(clips) == 0 {
		return
	}

	transcoder := in.deps.Transcoder
	if transcoder == nil {
		transcoder = cue.FFmpegTranscoder{Path: in.cfg.Analysis.FFmpegPath, Bitrate: in.cfg.Analysis.CueBitrate}
	}
	m := cue.NewMaterializer(transcoder, libRoot, scratch)

	progress.Start("split", len(clips))
	defer progress.Finish()

	var g errgroup.Group
	g.SetLimit(in.threads())
	for _, i := range clips {
		g.Go(func() error {
			defer progress.Increment()
			u := &units[i]
			path, err := m.Materialize(ctx, *u.clip)
			if err != nil {
				u.err = err
				logging.Warn().Err(err).Str("track", u.key).Msg("Failed to split cue track")
				return nil
			}
			u.path = path
			return nil
		})
	}
	_ = g.Wait()
}

type analysis struct {
	idx    int
	blob   []byte
	cached bool
	err    error
}

// analyse extracts features for every viable unit on a bounded pool and
// inserts them through one batch writer on the calling goroutine.
func (in *Ingester) analyse(ctx context.Context, units []unit, progress Progress, report *Report) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	todo := 0
	for i := range units {
		if units[i].err == nil {
			todo++
		} else {
			report.Failed++
			metrics.RecordIngestFile(metrics.IngestResultFailed)
		}
	}
	if todo == 0 {
		return nil
	}

	progress.Start("analyse", todo)
	defer progress.Finish()

	results := make(chan analysis)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(results)
		var g errgroup.Group
		g.SetLimit(in.threads())
		for i := range units {
			if units[i].err != nil {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				blob, cached, err := in.analyseOne(ctx, &units[i])
				select {
				case results <- analysis{idx: i, blob: blob, cached: cached, err: err}:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	bw := in.deps.Store.NewBatchWriter(ctx, in.cfg.Analysis.CommitEvery)
	every := rate.Sometimes{Interval: progressInterval}
	var werr error
	processed := 0
	for r := range results {
		if werr != nil {
			continue
		}
		processed++
		progress.Increment()
		u := &units[r.idx]
		if r.err != nil {
			u.err = r.err
			report.Failed++
			metrics.RecordIngestFile(metrics.IngestResultFailed)
			logging.Warn().Err(r.err).Str("file", u.key).Msg("Analysis failed, skipping")
			continue
		}
		if _, err := bw.Insert(u.key, r.blob); err != nil {
			werr = fmt.Errorf("store features: %w", err)
			cancel()
			continue
		}
		u.done = true
		if r.cached {
			report.Cached++
			metrics.RecordIngestFile(metrics.IngestResultCached)
		} else {
			report.Analysed++
			metrics.RecordIngestFile(metrics.IngestResultAnalysed)
		}
		every.Do(func() {
			logging.Info().Int("done", processed).Int("total", todo).Msg("Analysis progress")
		})
	}
	wg.Wait()

	if werr != nil {
		return werr
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("store features: %w", err)
	}
	return ctx.Err()
}

// analyseOne returns the features of u, from the cache when possible.
func (in *Ingester) analyseOne(ctx context.Context, u *unit) (blob []byte, cached bool, err error) {
	excerpt := in.excerpt()
	key, kerr := featurecache.Key(u.source, u.fragment(), excerpt, in.deps.EngineTag)
	if kerr == nil {
		if b, ok, err := in.deps.Cache.Get(key); err == nil && ok {
			return b, true, nil
		}
	}

	blob, err = in.deps.Analyzer.AnalyzeFile(ctx, u.path, excerpt)
	if err != nil {
		return nil, false, err
	}
	if kerr == nil {
		if err := in.deps.Cache.Put(key, blob); err != nil {
			logging.Debug().Err(err).Str("file", u.key).Msg("Failed to cache features")
		}
	}
	return blob, false, nil
}

// writeTags reads tags for every unit stored this run, or every viable
// unit in metadata-only mode, and writes them in batches.
func (in *Ingester) writeTags(ctx context.Context, units []unit, opts Options, report *Report) error {
	var todo []int
	for i := range units {
		u := &units[i]
		if u.done || (opts.MetadataOnly && u.err == nil) {
			todo = append(todo, i)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	opts.Progress.Start("tags", len(todo))
	defer opts.Progress.Finish()

	bw := in.deps.Store.NewBatchWriter(ctx, in.cfg.Analysis.CommitEvery)
	for _, i := range todo {
		if err := ctx.Err(); err != nil {
			_ = bw.Close()
			return err
		}
		u := &units[i]
		t, err := in.deps.Tags.Read(u.path)
		opts.Progress.Increment()
		if err != nil {
			logging.Warn().Err(err).Str("file", u.key).Msg("Failed to read tags")
			continue
		}
		if err := bw.UpdateTags(u.key, t); err != nil {
			if errors.Is(err, library.ErrNotFound) {
				logging.Debug().Str("file", u.key).Msg("Not analysed yet, tags skipped")
				continue
			}
			return fmt.Errorf("store tags: %w", err)
		}
		report.TagsUpdated++
		metrics.RecordIngestFile(metrics.IngestResultTagsUpdated)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("store tags: %w", err)
	}
	return nil
}

// rebuild refits the index from the whole store and persists it. The
// previous index file stays in place unless persisting succeeds.
func (in *Ingester) rebuild(ctx context.Context) error {
	started := time.Now()
	catalog, err := in.deps.Store.LoadCatalog(ctx, in.deps.Normalizer)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if catalog.Len() == 0 {
		// Everything was removed; nothing to index.
		if err := os.Remove(in.cfg.Paths.Jukebox); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove empty index: %w", err)
		}
		return nil
	}

	snap, err := index.Rebuild(ctx, in.deps.Store, in.deps.NewEngine(), catalog, in.deps.RNG, index.Settings{
		JukeboxPath: in.cfg.Paths.Jukebox,
		StyleTracks: in.cfg.Analysis.StyleTracks,
		StyleMethod: in.cfg.Analysis.StyleMethod,
	})
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	logging.Ctx(ctx).Info().
		Int("tracks", snap.Len()).
		Int("style_tracks", snap.Info().StyleTracks).
		Dur("duration", time.Since(started)).
		Msg("Index rebuilt")
	return nil
}
