package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/hlsmirror/internal/utils"
)

// Waits between attempts; the first attempt is immediate.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 10 * time.Second}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Fetcher struct {
	client utils.HTTPDoer
	delays []time.Duration
	sleep  SleepFunc
}

func NewFetcher(client utils.HTTPDoer) *Fetcher {
	return &Fetcher{
		client: client,
		delays: DefaultRetryDelays,
		sleep:  sleepContext,
	}
}

// WithSchedule replaces the retry waits and the sleep used between attempts.
func (f *Fetcher) WithSchedule(delays []time.Duration, sleep SleepFunc) *Fetcher {
	f.delays = delays
	if sleep != nil {
		f.sleep = sleep
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	attempts := len(f.delays) + 1
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			wait := f.delays[attempt-1]
			log.Debug().Str("op", "hls/fetcher").Msgf("Retrying %s in %s (attempt %d/%d)", url, wait, attempt+1, attempts)
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		data, err := f.get(ctx, url)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Debug().Str("op", "hls/fetcher").Err(err).Msgf("Attempt %d for %s failed", attempt+1, url)
	}
	log.Error().Str("op", "hls/fetcher").Err(lastErr).Msgf("Giving up on %s", url)
	return nil, &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error executing GET request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %v", err)
	}
	return data, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
