// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

package timbre

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tomtom215/timbre/internal/engine"
)

// SampleRate is the rate all audio is resampled to before analysis.
const SampleRate = 22050

// Decoder produces mono float samples in [-1, 1) at SampleRate.
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float64, error)
}

// FFmpegDecoder shells out to ffmpeg for decoding and resampling.
type FFmpegDecoder struct {
	Path string // ffmpeg binary; "ffmpeg" when empty
}

// Decode implements Decoder.
func (d FFmpegDecoder) Decode(ctx context.Context, path string) ([]float64, error) {
	bin := d.Path
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-vn",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"-",
	}
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // binary comes from config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return pcmToFloat(stdout.Bytes()), nil
}

// pcmToFloat converts signed 16-bit little-endian PCM to floats.
func pcmToFloat(data []byte) []float64 {
	samples := make([]float64, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[2*i:])) //nolint:gosec // two's complement reinterpretation
		samples[i] = float64(v) / 32768.0
	}
	return samples
}

// selectExcerpt returns the analysed window of samples.
func selectExcerpt(samples []float64, ex engine.Excerpt) []float64 {
	total := len(samples)
	length := int(ex.Length * SampleRate)
	if length <= 0 || length >= total {
		return samples
	}

	var start int
	if ex.Start >= 0 {
		start = int(ex.Start * SampleRate)
	} else {
		start = total/2 + int(ex.Start*SampleRate)
	}
	if start < 0 {
		start = 0
	}
	if start+length > total {
		start = total - length
	}
	return samples[start : start+length]
}
