package models

import "time"

// SynthesisJob is one submitted text waiting to be streamed. Segments are computed once at
// submission and never change afterwards.
type SynthesisJob struct {
	Token     string    `json:"token"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Segments  []string  `json:"segments"`
	CreatedAt time.Time `json:"created_at"`

	// Progress and Completed are only mutated by the stream driving the job.
	Progress  int  `json:"progress"`
	Completed bool `json:"completed"`
}

// Expired reports whether the job is older than ttl at now.
func (j *SynthesisJob) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(j.CreatedAt) >= ttl
}

// Progress is the client-visible state of a job, kept after the job itself is consumed.
type Progress struct {
	Sent   int  `json:"sent"`
	Total  int  `json:"total"`
	Done   bool `json:"done"`
	Failed bool `json:"failed,omitempty"`

	// File is the archive entry name once the stream completed.
	File string `json:"file,omitempty"`
}

// Finished reports whether no further updates will follow.
func (p Progress) Finished() bool { return p.Done || p.Failed }
