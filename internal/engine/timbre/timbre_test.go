// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package timbre

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/timbre/internal/engine"
)

// toneDecoder maps file names to synthetic tones.
type toneDecoder struct {
	tones map[string]float64
}

func (d toneDecoder) Decode(_ context.Context, path string) ([]float64, error) {
	freq, ok := d.tones[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return tone(freq, 2*SampleRate, int64(freq)), nil
}

func tone(freq float64, n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // test data
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5*math.Sin(2*math.Pi*freq*float64(i)/SampleRate) + 0.05*(rng.Float64()-0.5)
	}
	return out
}

func mustBlob(t *testing.T, freq float64) []byte {
	t.Helper()
	b, err := analyzeSamples(tone(freq, 2*SampleRate, int64(freq)))
	if err != nil {
		t.Fatalf("analyzeSamples(%v) error = %v", freq, err)
	}
	return b
}

func fittedEngine(t *testing.T, freqs ...float64) *Engine {
	t.Helper()
	blobs := make([][]byte, len(freqs))
	for i, f := range freqs {
		blobs[i] = mustBlob(t, f)
	}
	e := New()
	if err := e.FitStyle(blobs); err != nil {
		t.Fatalf("FitStyle() error = %v", err)
	}
	ids, err := e.AddTracks(blobs)
	if err != nil {
		t.Fatalf("AddTracks() error = %v", err)
	}
	if len(ids) != len(freqs) || ids[0] != 0 {
		t.Fatalf("AddTracks() ids = %v", ids)
	}
	return e
}

func TestAnalyzeFile(t *testing.T) {
	t.Parallel()

	e := New(WithDecoder(toneDecoder{tones: map[string]float64{"a.flac": 440}}))
	blob, err := e.AnalyzeFile(context.Background(), "a.flac", engine.Excerpt{Length: 1, Start: -0.5})
	if err != nil {
		t.Fatalf("AnalyzeFile() error = %v", err)
	}
	if len(blob) != featureSize(Coefficients) {
		t.Errorf("len(blob) = %d, want %d", len(blob), featureSize(Coefficients))
	}

	if _, err := e.AnalyzeFile(context.Background(), "missing.flac", engine.Excerpt{}); err == nil {
		t.Error("AnalyzeFile(missing) error = nil, want error")
	}
}

func TestAnalyzeSamplesTooShort(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 500, FrameSize * 4} {
		if _, err := analyzeSamples(make([]float64, n)); !errors.Is(err, ErrTooShort) {
			t.Errorf("analyzeSamples(%d samples) error = %v, want ErrTooShort", n, err)
		}
	}
}

func TestFeatureRoundTrip(t *testing.T) {
	t.Parallel()

	frames := mfccFrames(tone(1000, SampleRate*2, 1))
	mean, cov := fitGaussian(frames)
	gotMean, gotCov, err := decodeFeatures(encodeFeatures(mean, cov))
	if err != nil {
		t.Fatalf("decodeFeatures() error = %v", err)
	}
	for i := range mean {
		if math.Abs(gotMean[i]-mean[i]) > 1e-3*math.Max(1, math.Abs(mean[i])) {
			t.Errorf("mean[%d] = %v, want %v", i, gotMean[i], mean[i])
		}
	}
	d := len(mean)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			if gotCov[i*d+j] != gotCov[j*d+i] {
				t.Fatalf("cov not symmetric at %d,%d", i, j)
			}
		}
	}
}

func TestDecodeFeaturesRejects(t *testing.T) {
	t.Parallel()

	good := mustBlob(t, 440)
	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"bad version", badVersion},
		{"truncated", good[:len(good)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := decodeFeatures(tt.blob); !errors.Is(err, ErrBadFeatures) {
				t.Errorf("decodeFeatures() error = %v, want ErrBadFeatures", err)
			}
		})
	}
}

func TestSKL(t *testing.T) {
	t.Parallel()

	a, err := gaussianFromBlob(mustBlob(t, 440))
	if err != nil {
		t.Fatal(err)
	}
	b, err := gaussianFromBlob(mustBlob(t, 3000))
	if err != nil {
		t.Fatal(err)
	}

	if self := skl(a, a); self > 1e-6 {
		t.Errorf("skl(a, a) = %v, want ~0", self)
	}
	ab, ba := skl(a, b), skl(b, a)
	if ab <= 0 {
		t.Errorf("skl(a, b) = %v, want > 0", ab)
	}
	if math.Abs(ab-ba) > 1e-9*ab {
		t.Errorf("skl(a, b) = %v, skl(b, a) = %v, want equal", ab, ba)
	}

	near, err := gaussianFromBlob(mustBlob(t, 445))
	if err != nil {
		t.Fatal(err)
	}
	if an := skl(a, near); an >= ab {
		t.Errorf("skl(440Hz, 445Hz) = %v, want < skl(440Hz, 3000Hz) = %v", an, ab)
	}
}

func TestMutualProximity(t *testing.T) {
	t.Parallel()

	s := stats{Mu: 10, Sigma: 2}
	if got := mutualProximity(10, s, s); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("mutualProximity(mu) = %v, want 0.75", got)
	}
	near, far := mutualProximity(2, s, s), mutualProximity(20, s, s)
	if near >= far {
		t.Errorf("near = %v, far = %v, want near < far", near, far)
	}
	flat := stats{Mu: 5}
	if got := mutualProximity(1, flat, flat); got != 0 {
		t.Errorf("mutualProximity with zero spread = %v, want 0", got)
	}
	if got := mutualProximity(1, stats{Mu: math.NaN(), Sigma: math.NaN()}, s); !math.IsNaN(got) {
		t.Errorf("mutualProximity with NaN stats = %v, want NaN", got)
	}
}

func TestQuery(t *testing.T) {
	t.Parallel()

	e := fittedEngine(t, 440, 445, 3000, 6000)
	ns, err := e.Query(0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(ns) != 4 {
		t.Fatalf("len(Query()) = %d, want 4", len(ns))
	}
	if ns[0].ID != 0 || ns[0].Distance != 0 {
		t.Errorf("Query()[0] = %+v, want self with distance 0", ns[0])
	}
	for i := 1; i < len(ns); i++ {
		if ns[i].Distance < ns[i-1].Distance {
			t.Errorf("Query() not ascending at %d: %v < %v", i, ns[i].Distance, ns[i-1].Distance)
		}
		if ns[i].Distance < 0 || ns[i].Distance > 1 {
			t.Errorf("Query()[%d].Distance = %v, want in [0,1]", i, ns[i].Distance)
		}
	}
	seen := map[int]bool{}
	for _, n := range ns {
		seen[n.ID] = true
	}
	if len(seen) != 4 {
		t.Errorf("Query() returned %d distinct ids, want 4", len(seen))
	}
}

func TestQueryErrors(t *testing.T) {
	t.Parallel()

	if _, err := New().Query(0); !errors.Is(err, engine.ErrNotFitted) {
		t.Errorf("Query() before fit error = %v, want ErrNotFitted", err)
	}
	if _, err := New().AddTracks(nil); !errors.Is(err, engine.ErrNotFitted) {
		t.Errorf("AddTracks() before fit error = %v, want ErrNotFitted", err)
	}

	e := fittedEngine(t, 440, 880)
	for _, id := range []int{-1, 2} {
		if _, err := e.Query(id); !errors.Is(err, engine.ErrUnknownTrack) {
			t.Errorf("Query(%d) error = %v, want ErrUnknownTrack", id, err)
		}
	}
}

func TestFitStyleResetsTracks(t *testing.T) {
	t.Parallel()

	e := fittedEngine(t, 440, 880, 1760)
	if err := e.FitStyle([][]byte{mustBlob(t, 220)}); err != nil {
		t.Fatalf("FitStyle() error = %v", err)
	}
	info := e.Info()
	if info.Tracks != 0 || info.StyleTracks != 1 {
		t.Errorf("Info() = %+v, want 0 tracks and 1 style track", info)
	}
	if err := e.FitStyle(nil); err == nil {
		t.Error("FitStyle(nil) error = nil, want error")
	}
}

func TestPersistLoad(t *testing.T) {
	t.Parallel()

	e := fittedEngine(t, 440, 445, 3000)
	path := filepath.Join(t.TempDir(), "sub", "timbre.jukebox")
	if err := e.Persist(path); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	loaded := New()
	ids, err := loaded.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(ids) != 3 || ids[2] != 2 {
		t.Errorf("Load() ids = %v, want [0 1 2]", ids)
	}
	if got, want := loaded.Info(), e.Info(); got != want {
		t.Errorf("Info() = %+v, want %+v", got, want)
	}

	want, _ := e.Query(2)
	got, err := loaded.Query(2)
	if err != nil {
		t.Fatalf("Query() after Load error = %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Query()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPersistUnfitted(t *testing.T) {
	t.Parallel()

	if err := New().Persist(filepath.Join(t.TempDir(), "j")); !errors.Is(err, engine.ErrNotFitted) {
		t.Errorf("Persist() error = %v, want ErrNotFitted", err)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, []byte("definitely not zstd"), 0o600); err != nil {
		t.Fatal(err)
	}
	e := fittedEngine(t, 440)
	if _, err := e.Load(path); err == nil {
		t.Fatal("Load(garbage) error = nil, want error")
	}
	if e.TrackCount() != 1 {
		t.Errorf("TrackCount() after failed Load = %d, want 1", e.TrackCount())
	}
	if _, err := e.Load(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want ErrNotExist", err)
	}
}

func TestSelectExcerpt(t *testing.T) {
	t.Parallel()

	samples := make([]float64, 10*SampleRate)
	for i := range samples {
		samples[i] = float64(i)
	}
	tests := []struct {
		name      string
		ex        engine.Excerpt
		wantStart int
		wantLen   int
	}{
		{"whole when unset", engine.Excerpt{}, 0, 10 * SampleRate},
		{"whole when longer", engine.Excerpt{Length: 30}, 0, 10 * SampleRate},
		{"absolute start", engine.Excerpt{Length: 2, Start: 1}, SampleRate, 2 * SampleRate},
		{"relative to middle", engine.Excerpt{Length: 2, Start: -1}, 4 * SampleRate, 2 * SampleRate},
		{"clamped at end", engine.Excerpt{Length: 4, Start: 8}, 6 * SampleRate, 4 * SampleRate},
		{"clamped at start", engine.Excerpt{Length: 2, Start: -20}, 0, 2 * SampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := selectExcerpt(samples, tt.ex)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if int(got[0]) != tt.wantStart {
				t.Errorf("start = %v, want %d", got[0], tt.wantStart)
			}
		})
	}
}

func TestPCMToFloat(t *testing.T) {
	t.Parallel()

	got := pcmToFloat([]byte{0x00, 0x80, 0xff, 0x7f, 0x00, 0x00, 0x01})
	want := []float64{-1, 32767.0 / 32768.0, 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSortNeighbors(t *testing.T) {
	t.Parallel()

	ns := []engine.Neighbor{
		{ID: 0, Distance: 0.4},
		{ID: 1, Distance: math.NaN()},
		{ID: 2, Distance: 0},
		{ID: 3, Distance: 0.1},
		{ID: 4, Distance: 0.1},
	}
	sortNeighbors(ns, 2)
	wantIDs := []int{2, 3, 4, 0, 1}
	for i, id := range wantIDs {
		if ns[i].ID != id {
			t.Errorf("ns[%d].ID = %d, want %d", i, ns[i].ID, id)
		}
	}
}
