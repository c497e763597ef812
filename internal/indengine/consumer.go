package indengine

import (
	"context"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// consumeJobs runs recompute jobs from the Redis job stream until ctx is
// done. A job is acknowledged once its batch has been attempted, whatever
// the per-symbol outcome.
func (svc *Service) consumeJobs(ctx context.Context) {
	for {
		err := svc.redisReader.Consume(ctx, func(ctx context.Context, symbols []string) {
			svc.handleJob(ctx, symbols)
		})
		if ctx.Err() != nil {
			return
		}
		log.Printf("[indengine] job consumer stopped: %v, restarting", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (svc *Service) handleJob(ctx context.Context, symbols []string) {
	rep, err := svc.RunBatch(ctx, "job", symbols)
	switch {
	case err != nil:
		svc.prom.JobsTotal.WithLabelValues("error").Inc()
		log.Printf("[indengine] job failed: %v", err)
	case rep.Failed > 0:
		svc.prom.JobsTotal.WithLabelValues("partial").Inc()
		log.Printf("[indengine] job %s: %d ok, %d failed", rep.RunID, rep.OK, rep.Failed)
	default:
		svc.prom.JobsTotal.WithLabelValues("ok").Inc()
		log.Printf("[indengine] job %s: %d symbols in %s", rep.RunID, rep.OK, rep.Duration)
	}
}

func (svc *Service) redisClient() *goredis.Client {
	if svc.redisWriter == nil {
		return nil
	}
	return svc.redisWriter.Client()
}
