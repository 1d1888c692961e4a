package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sebastianpando/lector-tts-app/internal/models"
	"github.com/sebastianpando/lector-tts-app/internal/repositories"
	"github.com/sebastianpando/lector-tts-app/internal/utils"
)

// JobRepo stores jobs as JSON strings with a TTL, so expiry needs no sweeping and several
// app instances can share one pending-job space.
type JobRepo struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewJobRepo(rdb *redis.Client, ttl time.Duration) *JobRepo {
	return &JobRepo{rdb: rdb, ttl: ttl, prefix: "lector:job:"}
}

func (r *JobRepo) key(token string) string { return r.prefix + token }

func (r *JobRepo) Create(ctx context.Context, job *models.SynthesisJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, r.key(job.Token), b, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return repositories.ErrDuplicateToken
	}
	return nil
}

func (r *JobRepo) Get(ctx context.Context, token string) (*models.SynthesisJob, error) {
	s, err := r.rdb.Get(ctx, r.key(token)).Bytes()
	return decode(s, err)
}

// Consume relies on GETDEL so two concurrent streams can never both receive the job.
func (r *JobRepo) Consume(ctx context.Context, token string) (*models.SynthesisJob, error) {
	s, err := r.rdb.GetDel(ctx, r.key(token)).Bytes()
	return decode(s, err)
}

// Sweep is a no-op: Redis expires keys on its own.
func (r *JobRepo) Sweep(context.Context) (int, error) { return 0, nil }

func decode(b []byte, err error) (*models.SynthesisJob, error) {
	if errors.Is(err, redis.Nil) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var job models.SynthesisJob
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
