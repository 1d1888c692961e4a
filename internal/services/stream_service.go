package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastianpando/lector-tts-app/internal/cache"
	"github.com/sebastianpando/lector-tts-app/internal/metrics"
	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/providers/tts"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

// Sink is the client side of a stream. gin.ResponseWriter satisfies it.
type Sink interface {
	io.Writer
	Flush()
}

type StreamService interface {
	// Stream synthesizes job segment by segment, writing audio to sink as it arrives and to a
	// temp file that is archived once every segment succeeded. On error the temp file is gone
	// and nothing was archived; StreamResult.Sent tells how many bytes already reached sink.
	Stream(ctx context.Context, job *models.SynthesisJob, sink Sink) (StreamResult, error)
}

type StreamResult struct {
	Entry *models.ArchiveEntry
	Sent  int64
}

type StreamConfig struct {
	PrebufferBytes int
	SegmentTimeout time.Duration
	Attempts       int
	RetryDelay     time.Duration
	TempDir        string
	ProgressTTL    time.Duration
}

const (
	streamCompleted      = "completed"
	streamSynthesisError = "synthesis_error"
	streamClientGone     = "client_gone"
	streamArchiveError   = "archive_error"
)

// errClientGone marks a failed write to the sink.
var errClientGone = errors.New("client went away")

type streamService struct {
	provider tts.Provider
	archive  ArchiveService
	progress cache.Cache
	metrics  *metrics.Metrics
	log      *logrus.Logger
	cfg      StreamConfig
}

func NewStreamService(provider tts.Provider, archive ArchiveService, progress cache.Cache, m *metrics.Metrics, log *logrus.Logger, cfg StreamConfig) (StreamService, error) {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = 20 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	if cfg.ProgressTTL <= 0 {
		cfg.ProgressTTL = 5 * time.Minute
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &streamService{
		provider: provider,
		archive:  archive,
		progress: progress,
		metrics:  m,
		log:      log,
		cfg:      cfg,
	}, nil
}

func (s *streamService) Stream(ctx context.Context, job *models.SynthesisJob, sink Sink) (res StreamResult, err error) {
	const op = "StreamService.Stream"

	log := s.log.WithFields(logrus.Fields{
		"token":    job.Token,
		"language": job.Language,
		"segments": len(job.Segments),
	})
	out := &prebuffer{sink: sink, threshold: s.cfg.PrebufferBytes}
	status := streamCompleted
	defer func() {
		res.Sent = out.sent
		s.metrics.StreamFinished(status, out.sent)
	}()

	tmp, err := os.CreateTemp(s.cfg.TempDir, "stream-*.mp3.part")
	if err != nil {
		status = streamArchiveError
		return res, utils.E(utils.CodeInternal, op, "failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	archived := false
	defer func() {
		if archived {
			return
		}
		_ = tmp.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.WithError(rmErr).Warn("failed to remove temp file")
		}
	}()

	total := len(job.Segments)
	s.saveProgress(ctx, job.Token, models.Progress{Sent: job.Progress, Total: total})

	fail := func(code utils.Code, st, msg string, cause error) (StreamResult, error) {
		status = st
		s.saveProgress(ctx, job.Token, models.Progress{Sent: job.Progress, Total: total, Failed: true})
		log.WithError(cause).WithFields(logrus.Fields{"sent": job.Progress, "bytes": out.sent}).Warn("stream aborted")
		return res, utils.E(code, op, msg, cause)
	}

	for i := job.Progress; i < total; i++ {
		if ctx.Err() != nil {
			return fail(utils.CodeUnavailable, streamClientGone, "client disconnected", ctx.Err())
		}

		audio, err := s.synthesize(ctx, job.Segments[i], job.Language)
		if err != nil {
			if ctx.Err() != nil {
				return fail(utils.CodeUnavailable, streamClientGone, "client disconnected", err)
			}
			return fail(utils.CodeBadGateway, streamSynthesisError, fmt.Sprintf("speech synthesis failed at segment %d of %d", i+1, total), err)
		}

		if _, err := tmp.Write(audio); err != nil {
			return fail(utils.CodeInternal, streamArchiveError, "failed to write temp file", err)
		}
		if err := out.Write(audio); err != nil {
			return fail(utils.CodeUnavailable, streamClientGone, "client disconnected", err)
		}

		job.Progress = i + 1
		s.saveProgress(ctx, job.Token, models.Progress{Sent: job.Progress, Total: total})
	}

	if err := out.Close(); err != nil {
		return fail(utils.CodeUnavailable, streamClientGone, "client disconnected", err)
	}
	if err := tmp.Close(); err != nil {
		return fail(utils.CodeInternal, streamArchiveError, "failed to close temp file", err)
	}

	entry, err := s.archive.Finalize(ctx, tmpPath, job.Text)
	if err != nil {
		return fail(utils.CodeInternal, streamArchiveError, "failed to archive recording", err)
	}
	archived = true
	job.Completed = true
	res.Entry = entry

	s.saveProgress(ctx, job.Token, models.Progress{Sent: total, Total: total, Done: true, File: entry.Name})
	log.WithFields(logrus.Fields{"file": entry.Name, "bytes": out.sent}).Info("stream completed")
	return res, nil
}

// synthesize calls the provider with a per-attempt timeout and retries temporary failures
// a bounded number of times. A canceled parent context is never retried.
func (s *streamService) synthesize(ctx context.Context, text, language string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
		}

		actx, cancel := context.WithTimeout(ctx, s.cfg.SegmentTimeout)
		start := time.Now()
		audio, err := s.provider.Synthesize(actx, text, language)
		cancel()
		s.metrics.ObserveSegment(s.provider.Name(), time.Since(start), err)

		if err == nil && len(audio) == 0 {
			err = &tts.SynthesisError{Provider: s.provider.Name(), Language: language, Err: tts.ErrEmptyAudio}
		}
		if err == nil {
			return audio, nil
		}

		var se *tts.SynthesisError
		if !errors.As(err, &se) {
			err = &tts.SynthesisError{Provider: s.provider.Name(), Language: language, Err: err}
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if !tts.IsTemporary(err) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.log.WithError(err).WithField("attempt", attempt).Debug("segment synthesis failed")
	}
	return nil, lastErr
}

// saveProgress is best effort: it outlives a canceled request so the final state stays readable.
func (s *streamService) saveProgress(ctx context.Context, token string, p models.Progress) {
	if s.progress == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.progress.SetJSON(ctx, progressKey(token), p, s.cfg.ProgressTTL); err != nil {
		s.log.WithError(err).WithField("token", token).Warn("failed to save progress")
	}
}

// prebuffer holds back the first threshold bytes and then releases them in one write.
// Afterwards every write goes straight through and is flushed.
type prebuffer struct {
	sink      Sink
	threshold int
	buf       bytes.Buffer
	open      bool
	sent      int64
}

func (p *prebuffer) Write(b []byte) error {
	if !p.open {
		p.buf.Write(b)
		if p.buf.Len() < p.threshold {
			return nil
		}
		p.open = true
		b = p.buf.Bytes()
		defer p.buf.Reset()
	}
	return p.emit(b)
}

// Close releases whatever is still held back, for streams shorter than the threshold.
func (p *prebuffer) Close() error {
	if p.open || p.buf.Len() == 0 {
		return nil
	}
	p.open = true
	defer p.buf.Reset()
	return p.emit(p.buf.Bytes())
}

func (p *prebuffer) emit(b []byte) error {
	n, err := p.sink.Write(b)
	p.sent += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %v", errClientGone, err)
	}
	p.sink.Flush()
	return nil
}
