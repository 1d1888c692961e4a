// Package repositories holds the storage contracts shared by the in-process and Redis backends.
package repositories

import (
	"context"
	"errors"

	"github.com/sebastianpando/lector-tts-app/internal/models"
)

// JobRepository keeps pending synthesis jobs keyed by token. Jobs older than the
// repository TTL behave as missing. Every method is atomic with respect to concurrent callers.
type JobRepository interface {
	// Create stores a new job; the token must not be in use.
	Create(ctx context.Context, job *models.SynthesisJob) error
	// Get returns a copy of the job without consuming it, or utils.ErrNotFound.
	Get(ctx context.Context, token string) (*models.SynthesisJob, error)
	// Consume returns the job and removes it in one step, or utils.ErrNotFound.
	Consume(ctx context.Context, token string) (*models.SynthesisJob, error)
	// Sweep drops expired jobs and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// ErrDuplicateToken is returned by Create when the token is already stored.
var ErrDuplicateToken = errors.New("token already in use")
