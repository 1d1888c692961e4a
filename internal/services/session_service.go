package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sebastianpando/lector-tts-app/internal/cache"
	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/repositories"
	"github.com/sebastianpando/lector-tts-app/internal/segmenter"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

type SessionService interface {
	Create(ctx context.Context, text, language string) (*models.SynthesisJob, error)
	Get(ctx context.Context, token string) (*models.SynthesisJob, error)
	Consume(ctx context.Context, token string) (*models.SynthesisJob, error)
	Progress(ctx context.Context, token string) (*models.Progress, error)
	Languages() []string
	DefaultLanguage() string
}

type SessionConfig struct {
	MaxChars        int
	MaxWords        int
	FirstSegmentMax int
	SegmentMax      int
	Languages       []string
	DefaultLanguage string
	JobTTL          time.Duration
}

type sessionService struct {
	jobs     repositories.JobRepository
	progress cache.Cache
	cfg      SessionConfig
	now      func() time.Time
}

func NewSessionService(jobs repositories.JobRepository, progress cache.Cache, cfg SessionConfig) SessionService {
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 5 * time.Minute
	}
	return &sessionService{jobs: jobs, progress: progress, cfg: cfg, now: time.Now}
}

func (s *sessionService) Create(ctx context.Context, text, language string) (*models.SynthesisJob, error) {
	const op = "SessionService.Create"

	text = segmenter.Normalize(stripControl(text))
	if text == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "text is required", nil)
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxChars {
		return nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("text is too long (%d characters, max %d)", n, s.cfg.MaxChars), nil)
	}
	if n := len(strings.Fields(text)); n > s.cfg.MaxWords {
		return nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("text is too long (%d words, max %d)", n, s.cfg.MaxWords), nil)
	}

	segments := segmenter.Split(text, s.cfg.FirstSegmentMax, s.cfg.SegmentMax)
	if len(segments) == 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "text is required", nil)
	}

	// Abandoned submissions are cleaned up here rather than by a timer.
	if _, err := s.jobs.Sweep(ctx); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to sweep expired jobs", err)
	}

	job := &models.SynthesisJob{
		Token:     uuid.NewString(),
		Text:      text,
		Language:  s.language(language),
		Segments:  segments,
		CreatedAt: s.now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to store job", err)
	}
	// Seed the snapshot so progress stays readable across Consume. On a failed write
	// Progress falls back to the repository.
	_ = s.progress.SetJSON(ctx, progressKey(job.Token), models.Progress{Total: len(segments)}, s.cfg.JobTTL)
	return job, nil
}

func (s *sessionService) Get(ctx context.Context, token string) (*models.SynthesisJob, error) {
	const op = "SessionService.Get"

	if token == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "token is required", nil)
	}
	job, err := s.jobs.Get(ctx, token)
	if err != nil {
		return nil, notFoundOr(op, "job", err)
	}
	return job, nil
}

func (s *sessionService) Consume(ctx context.Context, token string) (*models.SynthesisJob, error) {
	const op = "SessionService.Consume"

	if token == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "token is required", nil)
	}
	job, err := s.jobs.Consume(ctx, token)
	if err != nil {
		return nil, notFoundOr(op, "job", err)
	}
	return job, nil
}

// Progress reports the stream state recorded by the pipeline, or zero progress for a job
// that has not started streaming yet.
func (s *sessionService) Progress(ctx context.Context, token string) (*models.Progress, error) {
	const op = "SessionService.Progress"

	if token == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "token is required", nil)
	}

	var p models.Progress
	hit, err := s.progress.GetJSON(ctx, progressKey(token), &p)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read progress", err)
	}
	if hit {
		return &p, nil
	}

	job, err := s.jobs.Get(ctx, token)
	if err != nil {
		return nil, notFoundOr(op, "job", err)
	}
	return &models.Progress{Sent: job.Progress, Total: len(job.Segments)}, nil
}

func (s *sessionService) Languages() []string {
	return append([]string(nil), s.cfg.Languages...)
}

func (s *sessionService) DefaultLanguage() string { return s.cfg.DefaultLanguage }

// language accepts "es", "ES" or "es-ES" style values; anything unsupported falls back to
// the default.
func (s *sessionService) language(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.IndexAny(v, "-_"); i > 0 {
		v = v[:i]
	}
	for _, l := range s.cfg.Languages {
		if l == v {
			return l
		}
	}
	return s.cfg.DefaultLanguage
}

func progressKey(token string) string { return "progress:" + token }

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func notFoundOr(op, what string, err error) error {
	if errors.Is(err, utils.ErrNotFound) {
		return utils.E(utils.CodeNotFound, op, what+" not found", err)
	}
	return utils.E(utils.CodeInternal, op, "failed to load "+what, err)
}
