package healthcheck

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 10 * time.Second
)

type SenderOptions struct {
	// HealthCheckInterval is the period between two ping signals
	HealthCheckInterval time.Duration
	// HealthCheckTimeout is the deadline for an acknowledgement after a ping. A negative value disables the deadline.
	HealthCheckTimeout time.Duration
	// AttemptThreshold is the number of consecutive missed deadlines before Timeout fires
	AttemptThreshold int
}

// Sender is a healthcheck sender
// It signals on HealthCheck every interval and the owner is expected to send a ping to the remote side.
// After each signal a deadline is armed. Any acknowledgement disarms it. If the deadline passes AttemptThreshold times
// in a row the sender signals on Timeout once and stops. It also stops when the context is canceled.
type Sender struct {
	// HealthCheck is a channel to send health check signal to the peer
	HealthCheck chan struct{}
	// Timeout is a channel to the health check signal is not received in a certain time
	Timeout chan struct{}

	log                 *log.Entry
	healthCheckInterval time.Duration
	timeout             time.Duration

	ack              chan struct{}
	attemptThreshold int
}

func NewSenderWithOpts(log *log.Entry, opts SenderOptions) *Sender {
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if opts.HealthCheckTimeout == 0 {
		opts.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if opts.AttemptThreshold <= 0 {
		opts.AttemptThreshold = getAttemptThresholdFromEnv()
	}

	return &Sender{
		HealthCheck:         make(chan struct{}, 1),
		Timeout:             make(chan struct{}, 1),
		log:                 log,
		healthCheckInterval: opts.HealthCheckInterval,
		timeout:             opts.HealthCheckTimeout,
		ack:                 make(chan struct{}, 1),
		attemptThreshold:    opts.AttemptThreshold,
	}
}

// NewSender creates a new healthcheck sender with the default period and deadline
func NewSender(log *log.Entry) *Sender {
	return NewSenderWithOpts(log, SenderOptions{})
}

// OnHCResponse sends an acknowledgment signal to the sender
func (hc *Sender) OnHCResponse() {
	select {
	case hc.ack <- struct{}{}:
	default:
	}
}

func (hc *Sender) StartHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(hc.healthCheckInterval)
	defer ticker.Stop()

	var (
		deadlineTimer *time.Timer
		deadline      <-chan time.Time
	)
	disarm := func() {
		if deadlineTimer != nil {
			deadlineTimer.Stop()
		}
		deadlineTimer = nil
		deadline = nil
	}
	defer disarm()

	defer close(hc.HealthCheck)
	defer close(hc.Timeout)

	failureCounter := 0
	for {
		select {
		case <-ticker.C:
			select {
			case hc.HealthCheck <- struct{}{}:
			default:
			}
			if hc.timeout > 0 && deadlineTimer == nil {
				deadlineTimer = time.NewTimer(hc.timeout)
				deadline = deadlineTimer.C
			}
		case <-deadline:
			disarm()
			failureCounter++
			if failureCounter < hc.attemptThreshold {
				hc.log.Warnf("health check failed attempt %d", failureCounter)
				continue
			}
			hc.Timeout <- struct{}{}
			return
		case <-hc.ack:
			failureCounter = 0
			disarm()
		case <-ctx.Done():
			return
		}
	}
}
