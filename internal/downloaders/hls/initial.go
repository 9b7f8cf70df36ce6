package hls

import (
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/hlsmirror/internal/utils"
)

type HLSDownloader struct {
	Muxer Muxer // ffmpeg from job metadata when nil
}

func (d *HLSDownloader) ValidateJob(job *utils.Job) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrInvalidURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", utils.ErrInvalidURL, parsedURL.Scheme)
	}
	if job.OutputPath == "" {
		return utils.ErrMissingOutput
	}
	return nil
}

func (d *HLSDownloader) BuildJob(job *utils.Job) error {
	muxer := d.Muxer
	if muxer == nil {
		binary, _ := job.Metadata["ffmpeg"].(string)
		muxer = &FFmpegMuxer{Binary: binary}
	}
	downloadJob, err := NewDownloadJob(JobOptions{
		StartURL:    job.URL,
		OutputPath:  job.OutputPath,
		TempRoot:    job.TempRoot,
		Concurrency: job.Connections,
		Client:      utils.NewHLSHTTPClient(job.HTTPClientConfig),
		Muxer:       muxer,
		OnProgress: func(p Progress) {
			if job.ProgressFunc != nil {
				job.ProgressFunc(int64(p.Resolved), int64(p.Total))
			}
		},
	})
	if err != nil {
		return err
	}
	job.OutputPath = downloadJob.OutputPath
	job.Metadata["tempDir"] = downloadJob.TempDir
	job.Metadata["downloadJob"] = downloadJob
	log.Info().Str("op", "hls/initial").Str("job", downloadJob.ID).Msgf("Job built for %s", job.URL)
	return nil
}
