package hls

import (
	"errors"
	"fmt"
)

var (
	ErrTransport    = errors.New("transport error")
	ErrStructural   = errors.New("structural playlist error")
	ErrFilesystem   = errors.New("filesystem error")
	ErrExternalTool = errors.New("external tool error")
)

// JobError carries one of the error kinds above together with the cause.
type JobError struct {
	Kind error
	Msg  string
	Err  error
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *JobError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func structuralf(format string, args ...any) error {
	return &JobError{Kind: ErrStructural, Msg: fmt.Sprintf(format, args...)}
}

func filesystemError(msg string, err error) error {
	return &JobError{Kind: ErrFilesystem, Msg: msg, Err: err}
}

// FetchError is returned once every attempt for a URL has failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// ExternalToolError reports a muxer run that did not exit cleanly.
type ExternalToolError struct {
	Tool   string
	Code   int
	Output string
}

func (e *ExternalToolError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
}

func (e *ExternalToolError) Unwrap() error { return ErrExternalTool }

// ExitCode is the status the process should exit with.
func (e *ExternalToolError) ExitCode() int {
	if e.Code <= 0 {
		return 1
	}
	return e.Code
}
