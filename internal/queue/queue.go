package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shiftleft/compliance/internal/models"
)

const (
	DefaultPrefix      = "compliance"
	DefaultMaxAttempts = 3

	failedListLimit = 1000
)

type Config struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	MaxAttempts int
}

// Queue is a Redis-backed dispatch queue for newly created findings.
// Pending events live in a sorted set scored by due time, so higher risk
// findings and events whose backoff has expired are dequeued first.
type Queue struct {
	client      *redis.Client
	keys        keys
	maxAttempts int
	now         func() time.Time
}

type keys struct {
	pending    string
	processing string
	failed     string
	completed  string
	heartbeat  string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return keys{
		pending:    prefix + ":dispatch:pending",
		processing: prefix + ":dispatch:processing",
		failed:     prefix + ":dispatch:failed",
		completed:  prefix + ":dispatch:completed",
		heartbeat:  prefix + ":workers:heartbeat",
	}
}

func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewWithClient(client, cfg.Prefix, cfg.MaxAttempts), nil
}

func NewWithClient(client *redis.Client, prefix string, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		client:      client,
		keys:        newKeys(prefix),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// DispatchEvent announces a newly created finding to side-effect handlers.
type DispatchEvent struct {
	ID        uuid.UUID      `json:"id"`
	Finding   models.Finding `json:"finding"`
	Priority  int            `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Attempts  int            `json:"attempts"`
	Errors    []string       `json:"errors,omitempty"`
}

type processingEntry struct {
	Event     DispatchEvent `json:"event"`
	WorkerID  string        `json:"worker_id"`
	StartedAt time.Time     `json:"started_at"`
}

// Priority maps a risk level onto a dispatch priority. Higher goes first.
func Priority(risk models.RiskLevel) int {
	return 4 - models.RiskRank(risk)
}

func score(due time.Time, priority int) float64 {
	return float64(due.Unix()) - float64(priority*1000)
}

// backoff is the delay before the given retry attempt.
func backoff(attempts int) time.Duration {
	return time.Duration(attempts*30) * time.Second
}

// Enqueue schedules a dispatch event for f.
func (q *Queue) Enqueue(ctx context.Context, f *models.Finding) (*DispatchEvent, error) {
	event := &DispatchEvent{
		ID:        uuid.New(),
		Finding:   *f,
		Priority:  Priority(f.RiskLevel),
		CreatedAt: q.now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}

	if err := q.client.ZAdd(ctx, q.keys.pending, redis.Z{
		Score:  score(event.CreatedAt, event.Priority),
		Member: string(data),
	}).Err(); err != nil {
		return nil, fmt.Errorf("enqueueing event: %w", err)
	}

	return event, nil
}

// Dequeue claims the most urgent due event, or returns nil when none is due.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*DispatchEvent, error) {
	now := q.now()
	results, err := q.client.ZRangeByScoreWithScores(ctx, q.keys.pending, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeuing event: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	member, _ := results[0].Member.(string)
	removed, err := q.client.ZRem(ctx, q.keys.pending, member).Result()
	if err != nil {
		return nil, fmt.Errorf("claiming event: %w", err)
	}
	if removed == 0 {
		// Another worker claimed it first.
		return nil, nil
	}

	var event DispatchEvent
	if err := json.Unmarshal([]byte(member), &event); err != nil {
		return nil, fmt.Errorf("unmarshaling event: %w", err)
	}

	entry, _ := json.Marshal(processingEntry{Event: event, WorkerID: workerID, StartedAt: now.UTC()})
	if err := q.client.HSet(ctx, q.keys.processing, event.ID.String(), string(entry)).Err(); err != nil {
		q.client.ZAdd(ctx, q.keys.pending, redis.Z{Score: results[0].Score, Member: member})
		return nil, fmt.Errorf("marking event as processing: %w", err)
	}

	return &event, nil
}

// Complete removes a processed event. Failed events are kept on a capped
// dead-letter list.
func (q *Queue) Complete(ctx context.Context, event *DispatchEvent, success bool) error {
	if err := q.client.HDel(ctx, q.keys.processing, event.ID.String()).Err(); err != nil {
		return fmt.Errorf("removing processing entry: %w", err)
	}

	if success {
		return q.client.Incr(ctx, q.keys.completed).Err()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.keys.failed, string(data))
	pipe.LTrim(ctx, q.keys.failed, 0, failedListLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording failed event: %w", err)
	}
	return nil
}

// Requeue schedules another attempt with linear backoff, or fails the event
// once it has used all attempts. It reports whether the event was requeued.
func (q *Queue) Requeue(ctx context.Context, event *DispatchEvent, errorMsg string) (bool, error) {
	if err := q.client.HDel(ctx, q.keys.processing, event.ID.String()).Err(); err != nil {
		return false, fmt.Errorf("removing processing entry: %w", err)
	}

	event.Attempts++
	event.Errors = append(event.Errors, errorMsg)

	if event.Attempts >= q.maxAttempts {
		return false, q.Complete(ctx, event, false)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("marshaling event: %w", err)
	}
	due := q.now().Add(backoff(event.Attempts))
	if err := q.client.ZAdd(ctx, q.keys.pending, redis.Z{
		Score:  float64(due.Unix()),
		Member: string(data),
	}).Err(); err != nil {
		return false, fmt.Errorf("requeuing event: %w", err)
	}
	return true, nil
}

type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.ZCard(ctx, q.keys.pending)
	processing := pipe.HLen(ctx, q.keys.processing)
	completed := pipe.Get(ctx, q.keys.completed)
	failed := pipe.LLen(ctx, q.keys.failed)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("getting queue stats: %w", err)
	}

	done, _ := completed.Int64()
	return &Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Completed:  done,
		Failed:     failed.Val(),
	}, nil
}

func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return q.client.HSet(ctx, q.keys.heartbeat, workerID, q.now().Unix()).Err()
}

func (q *Queue) ActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	workers, err := q.client.HGetAll(ctx, q.keys.heartbeat).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workers: %w", err)
	}

	var active []string
	cutoff := q.now().Add(-timeout).Unix()
	for workerID, lastSeen := range workers {
		ts, err := strconv.ParseInt(lastSeen, 10, 64)
		if err == nil && ts > cutoff {
			active = append(active, workerID)
		}
	}
	return active, nil
}

// CleanupStale returns events whose worker has held them longer than timeout
// to the pending set, counting the lost attempt.
func (q *Queue) CleanupStale(ctx context.Context, timeout time.Duration) (int, error) {
	entries, err := q.client.HGetAll(ctx, q.keys.processing).Result()
	if err != nil {
		return 0, fmt.Errorf("getting processing events: %w", err)
	}

	cleaned := 0
	for _, raw := range entries {
		var entry processingEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if q.now().Sub(entry.StartedAt) <= timeout {
			continue
		}

		event := entry.Event
		if _, err := q.Requeue(ctx, &event, fmt.Sprintf("worker %s timed out", entry.WorkerID)); err != nil {
			return cleaned, err
		}
		cleaned++
	}
	return cleaned, nil
}
