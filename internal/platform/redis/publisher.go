package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/logctx"
)

const (
	defaultBuffer      = 256
	defaultSnapshotTTL = 24 * time.Hour
	opTimeout          = 2 * time.Second
)

type Options struct {
	Addr     string
	Password string
	// SnapshotTTL is how long the last snapshot of a job stays readable under job:<id>.
	SnapshotTTL time.Duration
	Buffer      int
}

// Client is the subset of the redis client the publisher uses.
type Client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redisv8.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redisv8.IntCmd
	Close() error
}

// Publisher mirrors every job change into redis: the JSON snapshot is stored
// under job:<id> and published on the channel of the same name. It implements
// job.Observer. Changes are queued and written by a single goroutine, so the
// registry never waits on the network and each job's events keep their order.
type Publisher struct {
	client Client
	ttl    time.Duration
	logger *slog.Logger

	queue chan job.Job
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New connects to redis and starts the publishing loop.
func New(ctx context.Context, opts Options) (*Publisher, error) {
	c := redisv8.NewClient(&redisv8.Options{Addr: opts.Addr, Password: opts.Password})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.Ping(pingCtx).Err(); err != nil {
		c.Close()

		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewPublisher(ctx, c, opts), nil
}

// NewPublisher starts a publisher on an existing client.
func NewPublisher(ctx context.Context, client Client, opts Options) *Publisher {
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = defaultSnapshotTTL
	}

	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}

	p := &Publisher{
		client: client,
		ttl:    opts.SnapshotTTL,
		logger: logctx.LoggerFromContext(ctx),
		queue:  make(chan job.Job, opts.Buffer),
		done:   make(chan struct{}),
	}

	go p.loop()

	return p
}

// Channel returns the key and pub/sub channel of a job.
func Channel(jobID string) string {
	return "job:" + jobID
}

// JobChanged queues j for publishing. It never blocks; when the queue is full
// the change is dropped and a later one for the same job carries the state.
func (p *Publisher) JobChanged(j job.Job) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	select {
	case p.queue <- j:
	default:
		p.logger.Warn("job event queue full, dropping update", "job_id", j.ID, "status", j.Status)
	}
}

// Close drains the queue and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done

	return p.client.Close()
}

func (p *Publisher) loop() {
	defer close(p.done)

	for j := range p.queue {
		if err := p.publish(j); err != nil {
			p.logger.Warn("failed to publish job event", "job_id", j.ID, "err", err)
		}
	}
}

func (p *Publisher) publish(j job.Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := Channel(j.ID)

	if err := p.client.Set(ctx, key, payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	if err := p.client.Publish(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}
