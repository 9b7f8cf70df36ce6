package hls

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/hlsmirror/internal/utils"
)

type JobOptions struct {
	StartURL    string
	OutputPath  string
	TempRoot    string
	Concurrency int
	Client      utils.HTTPDoer
	Fetcher     *Fetcher // overrides Client when set
	Muxer       Muxer
	OnProgress  func(Progress)
}

// DownloadJob owns the state of one playlist download: where it writes, what
// it has resolved so far and what went missing.
type DownloadJob struct {
	ID             string
	StartURL       string
	OutputPath     string
	TempDir        string
	Concurrency    int
	Resources      *ResourceMap
	MediaPlaylist  string
	Keys           []string
	Missing        []string
	TotalFragments int

	fetcher    *Fetcher
	muxer      Muxer
	onProgress func(Progress)
}

func NewDownloadJob(opts JobOptions) (*DownloadJob, error) {
	if opts.OutputPath == "" {
		return nil, utils.ErrMissingOutput
	}
	dir, base := filepath.Split(opts.OutputPath)
	safeBase := utils.SafeFileName(base)
	if safeBase != base {
		log.Warn().Str("op", "hls/job").Msgf("Using modified output filename: %s", safeBase)
	}
	requested := filepath.Join(dir, safeBase)
	tempDir, err := utils.TempDirFor(opts.TempRoot, requested)
	if err != nil {
		return nil, filesystemError("cannot resolve temp dir", err)
	}
	outputPath := requested
	if !strings.HasSuffix(strings.ToLower(outputPath), ".mp4") {
		outputPath += ".mp4"
	}
	if outputPath, err = filepath.Abs(outputPath); err != nil {
		return nil, filesystemError("cannot resolve output path", err)
	}
	if _, err := os.Stat(outputPath); err == nil {
		outputPath = utils.RenewOutputPath(outputPath)
		log.Warn().Str("op", "hls/job").Msgf("Output exists, writing to %s", outputPath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, filesystemError("cannot create output directory", err)
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		log.Error().Str("op", "hls/job").Err(err).Msgf("Create temp dir failed for: %s", tempDir)
		return nil, filesystemError("cannot create temp dir", err)
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(opts.Client)
	}
	muxer := opts.Muxer
	if muxer == nil {
		muxer = &FFmpegMuxer{}
	}
	job := &DownloadJob{
		ID:          uuid.NewString(),
		StartURL:    opts.StartURL,
		OutputPath:  outputPath,
		TempDir:     tempDir,
		Concurrency: max(opts.Concurrency, 1),
		Resources:   NewResourceMap(),
		fetcher:     fetcher,
		muxer:       muxer,
		onProgress:  opts.OnProgress,
	}
	log.Debug().Str("op", "hls/job").Str("job", job.ID).Msgf("Using temp dir at: %s", tempDir)
	return job, nil
}

// Resolve mirrors the playlist tree and every fragment into the temp dir.
func (j *DownloadJob) Resolve(ctx context.Context) (*ResolveResult, error) {
	engine := NewEngine(j.fetcher, j.TempDir, j.Concurrency, j.Resources)
	engine.OnProgress = j.onProgress
	result, err := NewResolver(engine, j.TempDir).Resolve(ctx, j.StartURL)
	if err != nil {
		return nil, err
	}
	j.MediaPlaylist = result.MediaPlaylistPath
	j.Keys = result.Keys
	j.Missing = result.Fragments.Missing
	j.TotalFragments = result.Fragments.Total
	if len(j.Missing) > 0 {
		log.Warn().Str("op", "hls/job").Str("job", j.ID).Msgf("%d of %d fragments missing, output will be incomplete", len(j.Missing), j.TotalFragments)
	}
	return result, nil
}

// Run resolves the playlist, muxes it and removes the temp dir on success.
// The temp dir is kept on any failure so a later run can resume.
func (j *DownloadJob) Run(ctx context.Context) error {
	if _, err := j.Resolve(ctx); err != nil {
		return err
	}
	if err := j.muxer.Mux(ctx, j.MediaPlaylist, j.OutputPath); err != nil {
		log.Warn().Str("op", "hls/job").Str("job", j.ID).Msgf("Preserving fragments in %s due to error", j.TempDir)
		return err
	}
	if info, err := os.Stat(j.OutputPath); err == nil {
		log.Info().Str("op", "hls/job").Msgf("mp4 file created, size=%s, filename=%s", utils.FormatBytes(uint64(info.Size())), j.OutputPath)
	}
	log.Info().Str("op", "hls/job").Msgf("Removing temp files in dir: %s", j.TempDir)
	if err := os.RemoveAll(j.TempDir); err != nil {
		return filesystemError(fmt.Sprintf("cannot remove temp dir %s", j.TempDir), err)
	}
	return nil
}
