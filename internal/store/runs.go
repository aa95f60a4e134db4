// Package store persists finished-run records to Redis. The archive is an
// audit trail only; nothing in the pipeline reads it back during a run.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/threadr-ai/threadr/internal/workflow"
)

// Record is what gets archived for one finished run.
type Record struct {
	RunID         string    `json:"run_id"`
	RequestID     string    `json:"request_id"`
	Request       string    `json:"request"`
	Goal          string    `json:"goal"`
	Terminal      string    `json:"terminal"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Summary       string    `json:"summary"`
	Iterations    int       `json:"iterations"`
	Invocations   int       `json:"invocations"`
	StartedAt     time.Time `json:"started_at"`
	ArchivedAt    time.Time `json:"archived_at"`
}

// Options configures the archive.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RunArchive writes run records to Redis with a TTL and keeps a capped index
// of recent run IDs.
type RunArchive struct {
	client *redis.Client
	ttl    time.Duration
}

const recentRunsKey = "threadr:runs:recent"
const recentRunsCap = 500

// NewRunArchive connects to Redis and verifies the connection.
func NewRunArchive(ctx context.Context, opts Options) (*RunArchive, error) {
	if opts.TTL <= 0 {
		opts.TTL = 72 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RunArchive{client: client, ttl: opts.TTL}, nil
}

// ArchiveRun implements agent.RunArchiver.
func (a *RunArchive) ArchiveRun(ctx context.Context, state *workflow.RunState, summary string) error {
	rec := Record{
		RunID:         state.RunID,
		RequestID:     state.Request.ID,
		Request:       state.Request.UserMessage(),
		Goal:          state.Plan.Goal,
		Terminal:      string(state.Terminal),
		FailureReason: state.FailureReason,
		Summary:       summary,
		Iterations:    state.Iterations,
		Invocations:   len(state.History),
		StartedAt:     state.StartedAt,
		ArchivedAt:    time.Now(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	key := runKey(state.RunID)
	pipe := a.client.TxPipeline()
	pipe.Set(ctx, key, payload, a.ttl)
	pipe.LPush(ctx, recentRunsKey, state.RunID)
	pipe.LTrim(ctx, recentRunsKey, 0, recentRunsCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archive run %s: %w", state.RunID, err)
	}
	return nil
}

// GetRun fetches one archived record.
func (a *RunArchive) GetRun(ctx context.Context, runID string) (Record, error) {
	raw, err := a.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Record{}, fmt.Errorf("run %s not found", runID)
		}
		return Record{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return rec, nil
}

// RecentRuns returns up to n recent records, newest first. Expired records
// are skipped silently.
func (a *RunArchive) RecentRuns(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 || n > recentRunsCap {
		n = 50
	}
	ids, err := a.client.LRange(ctx, recentRunsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := a.GetRun(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close releases the Redis connection.
func (a *RunArchive) Close() error { return a.client.Close() }

func runKey(runID string) string { return "threadr:run:" + runID }
