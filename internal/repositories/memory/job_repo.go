package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/repositories"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

// JobRepo is the in-process job store. State lives in this process only, so it is correct
// for a single instance; run with the Redis backend when more than one instance serves traffic.
type JobRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.SynthesisJob
	ttl  time.Duration
	now  func() time.Time
}

func NewJobRepo(ttl time.Duration) *JobRepo {
	return &JobRepo{
		jobs: make(map[string]*models.SynthesisJob),
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithClock replaces the time source; tests use it to move past the TTL.
func (r *JobRepo) WithClock(now func() time.Time) *JobRepo {
	r.now = now
	return r
}

func (r *JobRepo) Create(_ context.Context, job *models.SynthesisJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[job.Token]; ok && !existing.Expired(r.now(), r.ttl) {
		return repositories.ErrDuplicateToken
	}
	r.jobs[job.Token] = cloneJob(job)
	return nil
}

func (r *JobRepo) Get(_ context.Context, token string) (*models.SynthesisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.live(token)
	if !ok {
		return nil, utils.ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *JobRepo) Consume(_ context.Context, token string) (*models.SynthesisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.live(token)
	if !ok {
		return nil, utils.ErrNotFound
	}
	delete(r.jobs, token)
	return job, nil
}

func (r *JobRepo) Sweep(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for token, job := range r.jobs {
		if job.Expired(now, r.ttl) {
			delete(r.jobs, token)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored jobs, expired ones included.
func (r *JobRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// live must be called with r.mu held. Expired jobs found on the way are dropped.
func (r *JobRepo) live(token string) (*models.SynthesisJob, bool) {
	job, ok := r.jobs[token]
	if !ok {
		return nil, false
	}
	if job.Expired(r.now(), r.ttl) {
		delete(r.jobs, token)
		return nil, false
	}
	return job, true
}

func cloneJob(j *models.SynthesisJob) *models.SynthesisJob {
	out := *j
	out.Segments = append([]string(nil), j.Segments...)
	return &out
}
