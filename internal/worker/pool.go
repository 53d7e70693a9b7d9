package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnConsumers starts one consumer per concurrency slot. Each consumer owns
// its Queue, so its channel and prefetch window are not shared.
func (w *Worker) spawnConsumers(ctx context.Context) error {
	w.logger.Info("Spawning consumers",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		c := &consumer{
			worker: w,
			queue:  w.newQueue(),
			name:   fmt.Sprintf("%s-%d", w.workerID, i),
		}

		w.mu.Lock()
		w.queues = append(w.queues, c.queue)
		w.mu.Unlock()

		if _, err := c.queue.Consume(ctx, w.queue, c.handle); err != nil {
			return fmt.Errorf("failed to start consumer %s: %w", c.name, err)
		}

		w.wg.Add(1)
		go c.wait()
	}

	w.logger.Info("Consumers spawned successfully",
		slog.Int("consumer_count", w.concurrency),
	)

	return nil
}

type consumer struct {
	worker *Worker
	queue  Queue
	name   string
}

func (c *consumer) wait() {
	defer c.worker.wg.Done()

	c.queue.Wait()
	c.worker.logger.Info("Consumer stopped",
		slog.String("consumer", c.name),
	)
}
