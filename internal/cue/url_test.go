// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package cue

import "testing"

func TestDecodeURL(t *testing.T) {
	t.Parallel()

	c := NewCodec("/music/")
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative", "A/B/01.flac", "A/B/01.flac"},
		{"absolute", "/music/A/B/01.flac", "A/B/01.flac"},
		{"file url", "file:///music/A/B/01%20Intro.flac", "A/B/01 Intro.flac"},
		{"tmp url", "tmp:///music/A/B/01.flac", "A/B/01.flac"},
		{"cue fragment", "file:///music/A/B/disc.flac#0-312.5", "A/B/disc.flac#0-312.5"},
		{"clip name", "tmp://A/B/disc.flac.CUE_TRACK.312.5-600.mp3", "A/B/disc.flac#312.5-600"},
		{"clip without extension", "A/B/disc.flac.CUE_TRACK.0-60", "A/B/disc.flac#0-60"},
		{"bad clip range kept", "A/disc.flac.CUE_TRACK.x-y.mp3", "A/disc.flac.CUE_TRACK.x-y.mp3"},
		{"outside root", "/other/x.mp3", "/other/x.mp3"},
		{"bad escape kept", "A/100%zz.mp3", "A/100%zz.mp3"},
		{"dot relative", "./AC:DC/Back in Black/01.mp3", "AC:DC/Back in Black/01.mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.DecodeURL(tt.in); got != tt.want {
				t.Errorf("DecodeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	keys := []string{
		"A/B/01.flac",
		"Björk/Homogenic/05 Bachelorette.m4a",
		"A & B/50% Off/track?.mp3",
		"A/B/disc.flac#0-312.5",
		"A/B/disc image.flac#312.5-600",
		"AC:DC/Back in Black/01 Hells Bells.mp3",
		"AC:DC/Live/disc.flac#0-60",
		"Symphony #5.mp3",
		"Live #2.flac#0-90",
	}
	for _, root := range []string{"/music", ""} {
		c := NewCodec(root)
		for _, key := range keys {
			enc := c.EncodeURL(key)
			if got := c.DecodeURL(enc); got != key {
				t.Errorf("root %q: DecodeURL(EncodeURL(%q)) = %q (encoded %q)", root, key, got, enc)
			}
		}
	}
}

func TestEncodeURL(t *testing.T) {
	t.Parallel()

	c := NewCodec("/music")
	if got, want := c.EncodeURL("A/B/01 Intro.flac"), "file:///music/A/B/01%20Intro.flac"; got != want {
		t.Errorf("EncodeURL() = %q, want %q", got, want)
	}
	if got, want := c.EncodeURL("A/disc.flac#0-60"), "file:///music/A/disc.flac#0-60"; got != want {
		t.Errorf("EncodeURL() = %q, want %q", got, want)
	}

	bare := NewCodec("")
	if got, want := bare.EncodeURL("AC:DC/x.mp3"), "AC:DC/x.mp3"; got != want {
		t.Errorf("EncodeURL() without root = %q, want %q", got, want)
	}
	if got, want := bare.EncodeURL("AC:DC/disc.flac#0-60"), "AC:DC/disc.flac#0-60"; got != want {
		t.Errorf("EncodeURL() without root = %q, want %q", got, want)
	}
}

func TestSplitKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key        string
		wantSource string
		wantRange  string
		wantOK     bool
	}{
		{"a.flac#0-60", "a.flac", "0-60", true},
		{"a.flac", "a.flac", "", false},
		{"a#b.flac", "a#b.flac", "", false},
		{"#0-60", "#0-60", "", false},
		{"a.flac#60-0", "a.flac#60-0", "", false},
	}
	for _, tt := range tests {
		source, rng, ok := SplitKey(tt.key)
		if source != tt.wantSource || rng != tt.wantRange || ok != tt.wantOK {
			t.Errorf("SplitKey(%q) = %q, %q, %v; want %q, %q, %v",
				tt.key, source, rng, ok, tt.wantSource, tt.wantRange, tt.wantOK)
		}
	}
}

func TestParseRange(t *testing.T) {
	t.Parallel()

	start, end, err := ParseRange("12.25-300")
	if err != nil || start != 12.25 || end != 300 {
		t.Errorf("ParseRange() = %v, %v, %v; want 12.25, 300, nil", start, end, err)
	}
	for _, bad := range []string{"", "12", "a-b", "5-5", "-1-3"} {
		if _, _, err := ParseRange(bad); err == nil {
			t.Errorf("ParseRange(%q) error = nil, want error", bad)
		}
	}
}
