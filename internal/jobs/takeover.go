package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketping/chat-server-go/internal/core"
)

// TakeoverJob periodically runs the AI takeover sweep.
type TakeoverJob struct {
	core     *core.Core
	interval time.Duration
	done     chan struct{}
}

func NewTakeoverJob(c *core.Core, interval time.Duration) *TakeoverJob {
	return &TakeoverJob{
		core:     c,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *TakeoverJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("takeover job started")
}

func (j *TakeoverJob) Stop() {
	close(j.done)
	log.Info().Msg("takeover job stopped")
}

func (j *TakeoverJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *TakeoverJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	j.core.RunTakeoverSweep(ctx)
}
