package hls

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Muxer turns a local media playlist into a single output file.
type Muxer interface {
	Mux(ctx context.Context, playlistPath, outputPath string) error
}

type FFmpegMuxer struct {
	Binary string
}

func FFmpegArgs(playlistPath, outputPath string) []string {
	return []string{
		"-loglevel", "warning",
		"-allowed_extensions", "ALL",
		"-i", playlistPath,
		"-acodec", "copy",
		"-vcodec", "copy",
		"-bsf:a", "aac_adtstoasc",
		outputPath,
	}
}

func (m *FFmpegMuxer) Mux(ctx context.Context, playlistPath, outputPath string) error {
	binary := m.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, FFmpegArgs(playlistPath, outputPath)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	log.Info().Str("op", "hls/mux").Msgf("Running: %s", cmd.String())
	if err := cmd.Run(); err != nil {
		code := 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if errors.Is(err, exec.ErrNotFound) {
			code = 127
		}
		output := strings.TrimSpace(stderr.String())
		log.Error().Str("op", "hls/mux").Msgf("Run ffmpeg command failed: exitcode=%d", code)
		if output != "" {
			log.Error().Str("op", "hls/mux").Msgf("FFmpeg output:\n%s", output)
		}
		return &ExternalToolError{Tool: binary, Code: code, Output: output}
	}
	return nil
}
