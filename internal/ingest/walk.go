// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package ingest

import (
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/h2non/filetype"

	"github.com/tomtom215/timbre/internal/logging"
)

// audioExtensions are matched case-insensitively, without the dot.
var audioExtensions = map[string]bool{
	"m4a":  true,
	"mp3":  true,
	"ogg":  true,
	"flac": true,
	"opus": true,
}

// sniffLen covers every signature the sniffer knows.
const sniffLen = 262

func hasAudioExtension(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return audioExtensions[strings.ToLower(ext)]
}

// looksLikeAudio rejects files whose content the sniffer identifies as
// something other than audio. Unrecognised content is accepted.
func looksLikeAudio(path string) bool {
	f, err := os.Open(path) //nolint:gosec // path comes from the library walk
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false
	}
	head = head[:n]
	if filetype.IsAudio(head) {
		return true
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return true
	}
	// MP4 containers are often sniffed as video.
	return kind.MIME.Value == "video/mp4" || kind.Extension == "m4v"
}

// companionCue reports whether a cue sheet sits next to path with the same
// base name.
func companionCue(path string) bool {
	cuePath := strings.TrimSuffix(path, filepath.Ext(path)) + ".cue"
	fi, err := os.Stat(cuePath)
	return err == nil && !fi.IsDir()
}

// walkAudio yields the audio files below root in lexicographic depth-first
// order using an explicit stack. A root that is itself a file is yielded
// alone when it qualifies.
func walkAudio(root string) iter.Seq[string] {
	type item struct {
		path string
		dir  bool
	}
	return func(yield func(string) bool) {
		fi, err := os.Stat(root)
		if err != nil {
			return
		}
		stack := []item{{path: root, dir: fi.IsDir()}}
		for len(stack) > 0 {
			it := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if !it.dir {
				if !hasAudioExtension(it.path) {
					continue
				}
				if !looksLikeAudio(it.path) {
					logging.Debug().Str("path", it.path).Msg("Skipping non-audio content")
					continue
				}
				if !yield(it.path) {
					return
				}
				continue
			}

			entries, err := os.ReadDir(it.path)
			if err != nil {
				logging.Warn().Err(err).Str("dir", it.path).Msg("Skipping unreadable directory")
				continue
			}
			// ReadDir sorts by name; push in reverse so entries pop in order.
			for _, e := range slices.Backward(entries) {
				switch {
				case e.IsDir():
					stack = append(stack, item{path: filepath.Join(it.path, e.Name()), dir: true})
				case e.Type().IsRegular():
					stack = append(stack, item{path: filepath.Join(it.path, e.Name())})
				}
			}
		}
	}
}
