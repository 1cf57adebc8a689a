package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/retry"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
// Pesan yang tidak akan pernah sukses (rusak) harus di-drop dengan return nil.
type Handler func(ctx context.Context, m kafka.Message) error

// handlerBackoff paces redelivery of a failing message.
var handlerBackoff = retry.Config{
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2,
	Jitter:        true,
}

type Consumer struct {
	r       *kafka.Reader
	workers int
	backoff retry.Config
	log     *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, backoff: handlerBackoff,
		log: log.With(zap.String("topic", topic), zap.String("group", group))}
}

// workerFor pins a partition to one worker so its offsets are handled in order.
func (c *Consumer) workerFor(partition int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % c.workers
}

// process runs h until it succeeds or ctx ends. A failed message is never
// skipped: committing a later offset of the same partition would lose it.
func (c *Consumer) process(ctx context.Context, worker int, h Handler, m kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := retry.Backoff(attempt, c.backoff)
		c.log.Warn("handler failed, retrying",
			zap.Int("worker", worker), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt), zap.Duration("backoff", d), zap.Error(err))
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 1024/c.workers+1)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if ctx.Err() != nil {
					// shutdown: sisanya dibaca ulang setelah restart
					continue
				}
				if err := c.process(ctx, id, h, m); err != nil {
					continue
				}
				// commit on success
				if err := c.r.CommitMessages(ctx, m); err != nil {
					c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
				}
			}
		}(i, queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case queues[c.workerFor(m.Partition)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}
