package workers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastianpando/lector-tts-app/internal/repositories"
)

// Janitor periodically drops expired jobs and temp files left behind by streams that never
// finished (process crash, kill during a stream). A live stream touches its temp file after
// every segment, so anything untouched for MaxAge is abandoned.
type Janitor struct {
	Jobs     repositories.JobRepository
	TempDir  string
	Pattern  string
	MaxAge   time.Duration
	Interval time.Duration

	Logger *logrus.Logger

	now func() time.Time
}

func (j *Janitor) Start(ctx context.Context) error {
	if j.Jobs == nil || j.TempDir == "" {
		return errors.New("Janitor missing dependency: Jobs/TempDir must be set")
	}
	if j.Pattern == "" {
		j.Pattern = "stream-*.mp3.part"
	}
	if j.MaxAge <= 0 {
		j.MaxAge = 15 * time.Minute
	}
	if j.Interval <= 0 {
		j.Interval = time.Minute
	}
	if j.Logger == nil {
		j.Logger = logrus.New()
	}
	if j.now == nil {
		j.now = time.Now
	}

	go j.run(ctx)
	return nil
}

func (j *Janitor) run(ctx context.Context) {
	t := time.NewTicker(j.Interval)
	defer t.Stop()

	j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass and reports what it removed.
func (j *Janitor) RunOnce(ctx context.Context) (jobs, files int) {
	jobs, err := j.Jobs.Sweep(ctx)
	if err != nil {
		j.Logger.WithError(err).Warn("job sweep failed")
	}

	matches, err := filepath.Glob(filepath.Join(j.TempDir, j.Pattern))
	if err != nil {
		j.Logger.WithError(err).Warn("temp file scan failed")
	}
	cutoff := j.now().Add(-j.MaxAge)
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.Logger.WithError(err).WithField("file", path).Warn("failed to remove stale temp file")
			continue
		}
		files++
	}

	if jobs > 0 || files > 0 {
		j.Logger.WithFields(logrus.Fields{"jobs": jobs, "temp_files": files}).Info("cleanup")
	}
	return jobs, files
}
