package healthcheck

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestNewReceiver(t *testing.T) {
	r := NewReceiver(log.WithContext(context.Background()), 2*time.Second)
	defer r.Stop()

	select {
	case <-r.OnTimeout:
		t.Error("unexpected timeout")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNewReceiverNotReceive(t *testing.T) {
	r := NewReceiver(log.WithContext(context.Background()), 300*time.Millisecond)

	select {
	case <-r.OnTimeout:
	case <-time.After(time.Second):
		t.Error("timeout not received")
	}
}

func TestNewReceiverAck(t *testing.T) {
	r := NewReceiver(log.WithContext(context.Background()), 500*time.Millisecond)
	defer r.Stop()

	r.Heartbeat()

	select {
	case <-r.OnTimeout:
		t.Error("unexpected timeout")
	case <-time.After(700 * time.Millisecond):
	}
}

func TestReceiverStop(t *testing.T) {
	r := NewReceiver(log.WithContext(context.Background()), 100*time.Millisecond)
	r.Stop()

	select {
	case _, ok := <-r.OnTimeout:
		if ok {
			t.Error("timeout notified after stop")
		}
	case <-time.After(time.Second):
		t.Error("receiver did not exit")
	}
}

func TestReceiverHealthCheckAttemptThreshold(t *testing.T) {
	testsCases := []struct {
		name             string
		threshold        int
		resetCounterOnce bool
	}{
		{"Default attempt threshold", defaultAttemptThreshold, false},
		{"Custom attempt threshold", 3, false},
		{"Should reset threshold once", 2, true},
	}

	for _, tc := range testsCases {
		t.Run(tc.name, func(t *testing.T) {
			heartbeatTimeout := 200 * time.Millisecond
			//nolint:tenv
			os.Setenv(defaultAttemptThresholdEnv, fmt.Sprintf("%d", tc.threshold))
			defer os.Unsetenv(defaultAttemptThresholdEnv)

			receiver := NewReceiver(log.WithField("test_name", tc.name), heartbeatTimeout)
			defer receiver.Stop()

			testTimeout := heartbeatTimeout*time.Duration(tc.threshold) + 100*time.Millisecond

			if tc.resetCounterOnce {
				receiver.Heartbeat()
				t.Logf("reset counter once")
			}

			select {
			case <-receiver.OnTimeout:
				if tc.resetCounterOnce {
					t.Fatalf("should not have timed out before %s", testTimeout)
				}
			case <-time.After(testTimeout):
				if tc.resetCounterOnce {
					return
				}
				t.Fatalf("should have timed out before %s", testTimeout)
			}
		})
	}
}
