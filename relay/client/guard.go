package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Guard schedules reconnect attempts after an unclean close.
// It is not safe for concurrent use, the Client calls it with its mutex held.
type Guard struct {
	log         *log.Entry
	backOff     backoff.BackOff
	maxAttempts int
	attempts    int
	timer       *time.Timer
	// generation changes on every Stop, an attempt scheduled under an older one must not run
	generation uint64
}

func NewGuard(log *log.Entry, base, limit time.Duration, jitter float64, maxAttempts int) *Guard {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.MaxInterval = limit
	eb.Multiplier = 2
	eb.RandomizationFactor = jitter
	eb.MaxElapsedTime = 0
	eb.Reset()

	if maxAttempts < 0 {
		maxAttempts = 0
	}

	return &Guard{
		log:         log,
		backOff:     backoff.WithMaxRetries(eb, uint64(maxAttempts)),
		maxAttempts: maxAttempts,
	}
}

// Schedule arms the next reconnect attempt. It returns false when the attempts are exhausted.
// fn receives the generation the attempt belongs to and must Claim it before acting.
func (g *Guard) Schedule(fn func(generation uint64)) (time.Duration, bool) {
	g.Stop()

	delay := g.backOff.NextBackOff()
	if delay == backoff.Stop {
		g.log.Warnf("giving up reconnecting to relay server after %d attempts", g.attempts)
		return 0, false
	}

	g.attempts++
	g.log.Infof("reconnecting to relay server in %s (attempt %d/%d)", delay, g.attempts, g.maxAttempts)
	generation := g.generation
	g.timer = time.AfterFunc(delay, func() { fn(generation) })
	return delay, true
}

// Claim reports whether the attempt of the given generation is still wanted and marks it as started.
// A timer that already fired is not stopped by Stop, its callback finds out here.
func (g *Guard) Claim(generation uint64) bool {
	if g.timer == nil || generation != g.generation {
		return false
	}
	g.timer = nil
	return true
}

// Stop cancels the pending attempt, if any
func (g *Guard) Stop() {
	g.generation++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// Reset cancels the pending attempt and restores the full attempt budget
func (g *Guard) Reset() {
	g.Stop()
	g.backOff.Reset()
	g.attempts = 0
}

// Attempts returns the number of attempts scheduled since the last reset
func (g *Guard) Attempts() int {
	return g.attempts
}

// Pending reports whether an attempt is scheduled
func (g *Guard) Pending() bool {
	return g.timer != nil
}
