package utils

import "context"

type Downloader interface {
	Download(ctx context.Context, job *Job) error
	BuildJob(job *Job) error
	ValidateJob(job *Job) error
}

type Job struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string
	TempRoot         string
	Connections      int
	ProgressFunc     func(resolved, total int64)
	StreamFunc       func(line string)
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}
