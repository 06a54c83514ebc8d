// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package similar

import (
	"cmp"
	"context"
	"slices"

	"github.com/rs/zerolog"

	"github.com/tomtom215/timbre/internal/genres"
	"github.com/tomtom215/timbre/internal/index"
	"github.com/tomtom215/timbre/internal/library"
	"github.com/tomtom215/timbre/internal/logging"
	"github.com/tomtom215/timbre/internal/metrics"
)

// Fallback buckets, in backfill priority order.
const (
	bucketPrevious = iota
	bucketCurrent
	bucketSeeds
	bucketCount
)

var bucketOutcomes = [bucketCount]string{
	metrics.OutcomeFilteredPrevious,
	metrics.OutcomeFilteredCurrent,
	metrics.OutcomeFilteredSeeds,
}

type candidate struct {
	meta     *library.Meta
	distance float64
	score    float64
}

// run is the state of one Similar call.
type run struct {
	log  zerolog.Logger
	s    *Service
	snap *index.Snapshot
	req  Request

	seeds      []int
	seedMeta   []*library.Meta
	seedGenres []string // expanded union over all seeds

	previous   []*library.Meta // bounded, oldest first
	ignoreMeta []*library.Meta
	exclude    exclusions
	seen       map[int]bool
	titles     map[string]bool

	accepted    []candidate
	current     []*library.Meta
	currentKeys map[string]bool
	buckets     [bucketCount][]candidate

	discarded  int
	backfilled int
}

func newRun(ctx context.Context, s *Service, snap *index.Snapshot, req Request) *run {
	r := &run{
		log:         logging.Ctx(ctx).With().Str("component", "similar").Logger(),
		s:           s,
		snap:        snap,
		req:         req,
		seen:        make(map[int]bool),
		titles:      make(map[string]bool),
		currentKeys: make(map[string]bool),
		exclude:     newExclusions(s.normalizer, req.ExcludeArtists, req.ExcludeAlbums),
	}

	var own []string
	for _, id := range resolve(ctx, snap, req.Seeds, "seed") {
		if r.seen[id] {
			continue
		}
		m, _ := snap.Catalog.Get(id)
		r.seen[id] = true
		r.seeds = append(r.seeds, id)
		r.seedMeta = append(r.seedMeta, m)
		r.addTitle(m)
		for _, g := range m.Genres {
			if !slices.Contains(own, g) {
				own = append(own, g)
			}
		}
	}
	r.seedGenres = s.taxonomy.Expand(own)

	prev := resolve(ctx, snap, req.Previous, "previous")
	if window := max(req.NoRepeatArtist, req.NoRepeatAlbum); len(prev) > window {
		prev = prev[len(prev)-window:]
	}
	for _, id := range prev {
		m, _ := snap.Catalog.Get(id)
		r.seen[id] = true
		r.previous = append(r.previous, m)
		r.addTitle(m)
	}

	ignored := resolve(ctx, snap, req.Ignore, "ignore")
	for _, id := range ignored {
		r.seen[id] = true
	}
	if n := s.cfg.MaxIgnoreMeta; len(ignored) > n {
		ignored = ignored[len(ignored)-n:]
	}
	for _, id := range ignored {
		m, _ := snap.Catalog.Get(id)
		r.ignoreMeta = append(r.ignoreMeta, m)
	}

	if req.MatchGenre {
		r.log.Debug().Strs("seed_genres", r.seedGenres).Msg("Genre filter active")
	}
	return r
}

func (r *run) addTitle(m *library.Meta) {
	if m.Title != "" {
		r.titles[m.Title] = true
	}
}

// lastN returns the newest n entries of list.
func lastN(list []*library.Meta, n int) []*library.Meta {
	if n <= 0 {
		return nil
	}
	if len(list) > n {
		return list[len(list)-n:]
	}
	return list
}

// scan walks the neighbours of one seed until budget tracks are accepted
// or the list is exhausted.
func (r *run) scan(seedIdx, budget int) {
	seed := r.seeds[seedIdx]
	seedMeta := r.seedMeta[seedIdx]
	allowed := r.s.taxonomy.Expand(seedMeta.Genres)
	genreExempt := r.s.ignoreGenre[seedMeta.Artist]

	list, err := r.s.lookup(r.snap, seed, false)
	if err != nil {
		r.log.Error().Err(err).Int("seed", seed).Msg("Neighbour query failed")
		return
	}

	accepted := 0
	for i := 0; accepted < budget; i++ {
		if i >= len(list.items) {
			if list.complete {
				break
			}
			if list, err = r.s.lookup(r.snap, seed, true); err != nil {
				r.log.Error().Err(err).Int("seed", seed).Msg("Neighbour query failed")
				return
			}
			if i >= len(list.items) {
				break
			}
		}
		n := list.items[i]
		if n.ID == seed || !usable(n.Distance) || r.seen[n.ID] {
			continue
		}
		r.seen[n.ID] = true

		m, ok := r.snap.Catalog.Get(n.ID)
		if !ok {
			continue
		}
		if r.evaluate(seedMeta, allowed, genreExempt, m, n.Distance) {
			accepted++
		}
	}
}

// evaluate runs the filter chain for one candidate and reports whether it
// was accepted.
func (r *run) evaluate(seed *library.Meta, allowed []string, genreExempt bool, m *library.Meta, distance float64) bool {
	discard := func(reason string) bool {
		r.discarded++
		r.log.Debug().Str("reason", reason).Str("file", m.File).Float64("distance", distance).Msg("Discarded")
		return false
	}
	park := func(b int) bool {
		r.buckets[b] = append(r.buckets[b], candidate{meta: m, distance: distance, score: distance})
		r.log.Debug().Str("bucket", bucketOutcomes[b]).Str("file", m.File).Float64("distance", distance).Msg("Filtered")
		return false
	}

	switch {
	case distance <= 0 || distance > r.req.MaxSimilarity:
		return discard("similarity")
	case m.Ignore:
		return discard("ignore")
	case !durationOK(r.req.MinDuration, r.req.MaxDuration, m.Duration):
		return discard("duration")
	case r.req.MatchGenre && !genreExempt && !r.s.taxonomy.Matches(r.seedGenres, m.Genres):
		return discard("genre")
	case r.req.FilterXmas && genres.IsChristmas(m.Genres):
		return discard("christmas")
	case r.exclude.artist(m):
		return discard("excluded artist")
	case r.exclude.album(m):
		return discard("excluded album")
	case sameArtistOrAlbum(r.seedMeta, m):
		return park(bucketSeeds)
	case sameArtistOrAlbum(r.current, m):
		return park(bucketCurrent)
	case sameArtist(lastN(r.previous, r.req.NoRepeatArtist), m):
		return park(bucketPrevious)
	case sameAlbum(lastN(r.previous, r.req.NoRepeatAlbum), m):
		return discard("previous album")
	case sameArtistOrAlbum(r.ignoreMeta, m):
		return park(bucketPrevious)
	case m.Title != "" && r.titles[m.Title]:
		return park(bucketPrevious)
	}

	score := distance + r.s.penalty(seed, allowed, m)
	r.accepted = append(r.accepted, candidate{meta: m, distance: distance, score: score})
	r.addTitle(m)
	if key := dedupKey(m); !r.currentKeys[key] {
		r.currentKeys[key] = true
		r.current = append(r.current, m)
	}
	r.log.Debug().Str("file", m.File).Float64("distance", distance).Float64("score", score).Msg("Accepted")
	return true
}

// finish collapses, backfills, orders and cuts the accepted set.
func (r *run) finish(budget int) []Track {
	out := r.collapse()

	if floor := r.s.cfg.BackfillFloor; len(out) < floor {
		for b := range bucketCount {
			if len(out) >= floor {
				break
			}
			pool := slices.Clone(r.buckets[b])
			slices.SortStableFunc(pool, func(x, y candidate) int { return cmp.Compare(x.distance, y.distance) })
			for _, c := range pool[:min(len(pool), floor-len(out))] {
				out = append(out, Track{File: c.meta.File, Distance: c.distance, Score: c.score})
				r.backfilled++
			}
		}
	}

	sortTracks(out)
	if len(out) > budget {
		out = out[:budget]
	}
	if r.req.Shuffle {
		r.s.shuffle(out)
	}
	if len(out) > r.req.Count {
		out = out[:r.req.Count]
	}
	return out
}

// collapse keeps one accepted track per artist, picked at random, ranked
// by the artist's best score. Untagged tracks form one group.
func (r *run) collapse() []Track {
	groups := make(map[string][]int)
	var order []string
	out := make([]Track, 0, len(r.accepted))
	for i, c := range r.accepted {
		a := c.meta.Artist
		if _, ok := groups[a]; !ok {
			order = append(order, a)
		}
		groups[a] = append(groups[a], i)
	}
	for _, a := range order {
		idx := groups[a]
		best := r.accepted[idx[0]].score
		for _, i := range idx[1:] {
			best = min(best, r.accepted[i].score)
		}
		pick := idx[0]
		if len(idx) > 1 {
			pick = idx[r.s.intN(len(idx))]
		}
		c := r.accepted[pick]
		out = append(out, Track{File: c.meta.File, Distance: c.distance, Score: best})
	}
	return out
}

func (r *run) record() {
	metrics.RecordCandidates(metrics.OutcomeAccepted, len(r.accepted))
	metrics.RecordCandidates(metrics.OutcomeDiscarded, r.discarded)
	metrics.RecordCandidates(metrics.OutcomeBackfilled, r.backfilled)
	for b := range bucketCount {
		metrics.RecordCandidates(bucketOutcomes[b], len(r.buckets[b]))
	}
	r.log.Debug().
		Int("seeds", len(r.seeds)).
		Int("accepted", len(r.accepted)).
		Int("discarded", r.discarded).
		Int("backfilled", r.backfilled).
		Msg("Similar request complete")
}
