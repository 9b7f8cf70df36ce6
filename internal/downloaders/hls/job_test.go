package hls

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720
high/index.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-KEY:METHOD=AES-128,URI="key.bin"
#EXTINF:4.0,
seg0.ts
#EXTINF:4.0,
seg1.jpg
#EXTINF:4.0,
/abs/seg2.ts
#EXT-X-ENDLIST
`

// recordingMuxer captures the playlist it was handed and writes a dummy output.
type recordingMuxer struct {
	playlist string
	content  string
	err      error
}

func (m *recordingMuxer) Mux(ctx context.Context, playlistPath, outputPath string) error {
	m.playlist = playlistPath
	data, err := os.ReadFile(playlistPath)
	if err != nil {
		return err
	}
	m.content = string(data)
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(outputPath, []byte("mp4"), 0644)
}

func newHLSServer(t *testing.T) *fragmentServer {
	fs := newFragmentServer(t)
	fs.set("/master.m3u8", []byte(masterPlaylist))
	fs.set("/high/index.m3u8", []byte(mediaPlaylist))
	fs.set("/high/seg1.jpg", append(bytes.Repeat([]byte{0xff}, imageHeaderSize), "seg1-data"...))
	fs.set("/nested/index.m3u8", []byte("#EXTM3U\n#EXTINF:4.0,\nother.m3u8\n"))
	return fs
}

func newTestJob(t *testing.T, fs *fragmentServer, startPath string, muxer Muxer) *DownloadJob {
	t.Helper()
	job, err := NewDownloadJob(JobOptions{
		StartURL:    fs.URL + startPath,
		OutputPath:  filepath.Join(t.TempDir(), "out", "movie"),
		TempRoot:    t.TempDir(),
		Concurrency: 2,
		Fetcher:     NewFetcher(fs.Client()).WithSchedule(DefaultRetryDelays, noSleep),
		Muxer:       muxer,
	})
	if err != nil {
		t.Fatalf("NewDownloadJob() error = %v", err)
	}
	return job
}

func TestNewDownloadJobPaths(t *testing.T) {
	fs := newHLSServer(t)
	job := newTestJob(t, fs, "/master.m3u8", &recordingMuxer{})
	if filepath.Base(job.OutputPath) != "movie.mp4" || !filepath.IsAbs(job.OutputPath) {
		t.Errorf("output = %q", job.OutputPath)
	}
	if filepath.Base(job.TempDir) != "movie" {
		t.Errorf("temp dir = %q", job.TempDir)
	}
	if info, err := os.Stat(job.TempDir); err != nil || !info.IsDir() {
		t.Errorf("temp dir not created: %v", err)
	}
	if job.ID == "" {
		t.Error("expected job ID")
	}
}

// TestDownloadJobRun exercises master selection, key mirroring, rewrite, mux and cleanup.
func TestDownloadJobRun(t *testing.T) {
	fs := newHLSServer(t)
	muxer := &recordingMuxer{}
	job := newTestJob(t, fs, "/master.m3u8", muxer)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if fs.count("/low/index.m3u8") != 0 {
		t.Error("lower resolution variant was fetched")
	}
	if job.Resources.Len() != 3 {
		t.Errorf("resource map size = %d, want 3", job.Resources.Len())
	}
	if len(job.Keys) != 1 || len(job.Missing) != 0 {
		t.Errorf("keys = %v, missing = %v", job.Keys, job.Missing)
	}

	want := []string{
		LocalPathFor(job.TempDir, fs.URL+"/high/seg0.ts", ""),
		LocalPathFor(job.TempDir, fs.URL+"/high/seg1.jpg", ""),
		LocalPathFor(job.TempDir, fs.URL+"/abs/seg2.ts", ""),
	}
	var got []string
	for _, line := range strings.Split(muxer.content, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		got = append(got, line)
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("references = %v, want %v", got, want)
	}
	if !strings.Contains(muxer.content, filepath.ToSlash(filepath.Join(job.TempDir, "high", "key.bin"))) {
		t.Errorf("key not rewritten:\n%s", muxer.content)
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		t.Errorf("output missing: %v", err)
	}
	if _, err := os.Stat(job.TempDir); !os.IsNotExist(err) {
		t.Errorf("temp dir should be removed after success")
	}
}

func TestDownloadJobKeepsTempDirOnMuxFailure(t *testing.T) {
	fs := newHLSServer(t)
	muxer := &recordingMuxer{err: &ExternalToolError{Tool: "ffmpeg", Code: 3}}
	job := newTestJob(t, fs, "/high/index.m3u8", muxer)

	err := job.Run(context.Background())
	var toolErr *ExternalToolError
	if !errors.As(err, &toolErr) || toolErr.ExitCode() != 3 {
		t.Fatalf("error = %v, want ExternalToolError with code 3", err)
	}
	if !errors.Is(err, ErrExternalTool) {
		t.Error("error should wrap ErrExternalTool")
	}
	if _, err := os.Stat(job.TempDir); err != nil {
		t.Errorf("temp dir should be kept: %v", err)
	}
}

// TestDownloadJobResume verifies a second resolve of the same job fetches no fragments.
func TestDownloadJobResume(t *testing.T) {
	fs := newHLSServer(t)
	job := newTestJob(t, fs, "/high/index.m3u8", &recordingMuxer{})
	if _, err := job.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	before := fs.count("/high/seg0.ts") + fs.count("/high/seg1.jpg") + fs.count("/abs/seg2.ts") + fs.count("/high/key.bin")

	again := &DownloadJob{
		ID: "resume", StartURL: job.StartURL, TempDir: job.TempDir, Concurrency: 2,
		Resources: NewResourceMap(), fetcher: job.fetcher,
	}
	result, err := again.Resolve(context.Background())
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	after := fs.count("/high/seg0.ts") + fs.count("/high/seg1.jpg") + fs.count("/abs/seg2.ts") + fs.count("/high/key.bin")
	if after != before {
		t.Errorf("second run fetched %d resources", after-before)
	}
	if result.Fragments.Reused != 3 {
		t.Errorf("reused = %d, want 3", result.Fragments.Reused)
	}
}

func TestDownloadJobMissingFragment(t *testing.T) {
	fs := newHLSServer(t)
	fs.set("/m/index.m3u8", []byte("#EXTM3U\n#EXTINF:4,\na.ts\n#EXTINF:4,\nmissing.ts\n"))
	muxer := &recordingMuxer{}
	job := newTestJob(t, fs, "/m/index.m3u8", muxer)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(job.Missing) != 1 || job.TotalFragments != 2 {
		t.Errorf("missing = %v, total = %d", job.Missing, job.TotalFragments)
	}
	if muxer.playlist == "" {
		t.Error("muxer should still run with missing fragments")
	}
}

func TestResolveRejectsNestedPlaylist(t *testing.T) {
	fs := newHLSServer(t)
	job := newTestJob(t, fs, "/nested/index.m3u8", &recordingMuxer{})
	_, err := job.Resolve(context.Background())
	if !errors.Is(err, ErrStructural) {
		t.Fatalf("error = %v, want ErrStructural", err)
	}
}

func TestResolveFailsWhenStartUnreachable(t *testing.T) {
	fs := newHLSServer(t)
	job := newTestJob(t, fs, "/gone/missing.ts", &recordingMuxer{})
	_, err := job.Resolve(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	got := strings.Join(FFmpegArgs("in.m3u8", "out.mp4"), " ")
	want := "-loglevel warning -allowed_extensions ALL -i in.m3u8 -acodec copy -vcodec copy -bsf:a aac_adtstoasc out.mp4"
	if got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestFFmpegMuxerMissingBinary(t *testing.T) {
	m := &FFmpegMuxer{Binary: filepath.Join(t.TempDir(), "no-such-ffmpeg")}
	err := m.Mux(context.Background(), "in.m3u8", "out.mp4")
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("error = %v, want ErrExternalTool", err)
	}
}
