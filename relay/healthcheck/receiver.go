package healthcheck

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultHeartbeatTimeout is a bit longer than the client's ping period
const DefaultHeartbeatTimeout = DefaultHealthCheckInterval + 10*time.Second

// Receiver watches the heartbeats of a peer that pings the relay on its own schedule.
// Time is cut into windows of the heartbeat timeout; a window without any heartbeat is a miss. After the
// attempt threshold of consecutive misses OnTimeout receives one value and the receiver stops. OnTimeout is
// closed when the receiver exits, with or without a timeout.
type Receiver struct {
	OnTimeout chan struct{}

	log       *log.Entry
	ctx       context.Context
	ctxCancel context.CancelFunc
	heartbeat chan struct{}
	window    time.Duration
	threshold int
}

// NewReceiver starts watching in the background. A non-positive timeout means DefaultHeartbeatTimeout.
func NewReceiver(log *log.Entry, timeout time.Duration) *Receiver {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	r := &Receiver{
		OnTimeout: make(chan struct{}, 1),
		log:       log,
		ctx:       ctx,
		ctxCancel: cancel,
		heartbeat: make(chan struct{}, 1),
		window:    timeout,
		threshold: getAttemptThresholdFromEnv(),
	}
	go r.watch()
	return r
}

// Heartbeat records traffic from the peer in the current window. It never blocks.
func (r *Receiver) Heartbeat() {
	select {
	case r.heartbeat <- struct{}{}:
	default:
	}
}

// Stop ends the watch without a timeout notification
func (r *Receiver) Stop() {
	r.ctxCancel()
}

func (r *Receiver) watch() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	defer r.ctxCancel()
	defer close(r.OnTimeout)

	heard := false
	missed := 0
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.heartbeat:
			heard = true
			missed = 0
		case <-ticker.C:
			if heard {
				heard = false
				continue
			}

			missed++
			if missed < r.threshold {
				r.log.Warnf("no heartbeat from peer for %s, miss %d of %d", time.Duration(missed)*r.window, missed, r.threshold)
				continue
			}
			select {
			case r.OnTimeout <- struct{}{}:
			default:
			}
			return
		}
	}
}
