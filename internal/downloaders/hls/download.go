package hls

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/hlsmirror/internal/uploaders/s3"
	"github.com/tanq16/hlsmirror/internal/utils"
)

func (d *HLSDownloader) Download(ctx context.Context, job *utils.Job) error {
	downloadJob, ok := job.Metadata["downloadJob"].(*DownloadJob)
	if !ok {
		return fmt.Errorf("job was not built")
	}
	stream(job, "Resolving playlist")
	log.Debug().Str("op", "hls/download").Str("job", downloadJob.ID).Msgf("Fetching playlist from %s", job.URL)
	if err := downloadJob.Run(ctx); err != nil {
		return err
	}
	job.Metadata["missing"] = len(downloadJob.Missing)
	if len(downloadJob.Missing) > 0 {
		stream(job, fmt.Sprintf("%d fragments missing", len(downloadJob.Missing)))
	}

	destination, _ := job.Metadata["s3Upload"].(string)
	if destination == "" {
		return nil
	}
	stream(job, "Uploading to "+destination)
	profile, _ := job.Metadata["s3Profile"].(string)
	if err := s3.Upload(ctx, profile, downloadJob.OutputPath, destination); err != nil {
		return fmt.Errorf("error publishing output: %v", err)
	}
	return nil
}

func stream(job *utils.Job, line string) {
	if job.StreamFunc != nil {
		job.StreamFunc(line)
	}
}
