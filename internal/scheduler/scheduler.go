package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/hlsmirror/internal/downloaders/hls"
	"github.com/tanq16/hlsmirror/internal/output"
	"github.com/tanq16/hlsmirror/internal/utils"
)

// downloaderRegistry maps job types to their downloader implementations
var downloaderRegistry = map[string]utils.Downloader{
	"hls": &hls.HLSDownloader{},
}

// Run executes jobs on numWorkers workers and returns every job failure joined.
// The live display is only drawn when logs are not going to the terminal.
func Run(ctx context.Context, jobs []utils.Job, numWorkers int, liveDisplay bool) error {
	outputMgr := output.NewManager(liveDisplay)
	outputMgr.StartDisplay()
	defer outputMgr.StopDisplay()

	jobCh := make(chan utils.Job, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if err := processJob(ctx, job, outputMgr); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func processJob(ctx context.Context, job utils.Job, outputMgr *output.Manager) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	funcID := outputMgr.RegisterFunction(job.URL)

	downloader, exists := downloaderRegistry[job.JobType]
	if !exists {
		err := fmt.Errorf("unknown job type: %s", job.JobType)
		outputMgr.ReportError(funcID, err)
		outputMgr.SetMessage(funcID, fmt.Sprintf("Error: Unknown job type %s", job.JobType))
		return err
	}
	job.ProgressFunc = func(resolved, total int64) {
		outputMgr.AddProgressBarToStream(funcID, resolved, total, "fragments")
	}
	job.StreamFunc = func(line string) {
		outputMgr.AddStreamLine(funcID, line)
	}

	outputMgr.SetStatus(funcID, "pending")
	outputMgr.SetMessage(funcID, fmt.Sprintf("Validating %s job", job.JobType))
	if err := downloader.ValidateJob(&job); err != nil {
		outputMgr.ReportError(funcID, fmt.Errorf("validation failed: %v", err))
		outputMgr.SetMessage(funcID, fmt.Sprintf("Validation failed for %s", job.URL))
		return err
	}

	outputMgr.SetMessage(funcID, fmt.Sprintf("Building %s job", job.JobType))
	if err := downloader.BuildJob(&job); err != nil {
		outputMgr.ReportError(funcID, fmt.Errorf("build failed: %v", err))
		outputMgr.SetMessage(funcID, fmt.Sprintf("Build failed for %s", job.OutputPath))
		return err
	}
	log.Debug().Str("op", "scheduler").Str("job", job.ID).Msgf("Job built, output %s", job.OutputPath)

	outputMgr.SetMessage(funcID, fmt.Sprintf("Downloading %s", job.OutputPath))
	if err := downloader.Download(ctx, &job); err != nil {
		outputMgr.ReportError(funcID, fmt.Errorf("download failed: %v", err))
		outputMgr.SetMessage(funcID, fmt.Sprintf("Download failed for %s", job.OutputPath))
		return err
	}

	if missing, _ := job.Metadata["missing"].(int); missing > 0 {
		outputMgr.Warn(funcID, fmt.Sprintf("Completed %s with %d missing fragments", job.OutputPath, missing))
		return nil
	}
	outputMgr.Complete(funcID, fmt.Sprintf("Completed %s", job.OutputPath))
	return nil
}
