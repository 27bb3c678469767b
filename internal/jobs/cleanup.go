package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/audit"
	"github.com/pocketping/chat-server-go/internal/repository"
)

// CleanupJob deletes sessions (and their messages) idle past the
// retention window.
type CleanupJob struct {
	sessionRepo repository.SessionRepository
	retention   time.Duration
	interval    time.Duration
	done        chan struct{}
}

func NewCleanupJob(sessionRepo repository.SessionRepository, retention, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessionRepo: sessionRepo,
		retention:   retention,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.retention)
	count, err := j.sessionRepo.DeleteIdleBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to clean up idle sessions")
		return
	}
	if count > 0 {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventSessionCleanup,
			Details: map[string]interface{}{"count": count},
		})
		log.Info().Int64("count", count).Msg("cleaned up idle sessions")
	}
}
