package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	idleTimeout = 30 * time.Second
)

type Metrics struct {
	metric.Meter

	peers          metric.Int64UpDownCounter
	queries        metric.Int64Counter
	authFailures   metric.Int64Counter
	answerDuration metric.Int64Histogram

	peerActivityChan chan string
	peerLastActive   map[string]time.Time
	mutexActivity    sync.Mutex
	ctx              context.Context
}

func NewMetrics(ctx context.Context, meter metric.Meter) (*Metrics, error) {
	peers, err := meter.Int64UpDownCounter("relay_peers")
	if err != nil {
		return nil, err
	}

	queries, err := meter.Int64Counter("relay_queries_total",
		metric.WithDescription("Questions received from authenticated peers"))
	if err != nil {
		return nil, err
	}

	authFailures, err := meter.Int64Counter("relay_auth_failures_total")
	if err != nil {
		return nil, err
	}

	answerDuration, err := meter.Int64Histogram("relay_answer_duration_ms",
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000))
	if err != nil {
		return nil, err
	}

	peersActive, err := meter.Int64ObservableGauge("relay_peers_active")
	if err != nil {
		return nil, err
	}

	peersIdle, err := meter.Int64ObservableGauge("relay_peers_idle")
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		Meter:          meter,
		peers:          peers,
		queries:        queries,
		authFailures:   authFailures,
		answerDuration: answerDuration,

		ctx:              ctx,
		peerActivityChan: make(chan string, 10),
		peerLastActive:   make(map[string]time.Time),
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			active, idle := m.calculateActiveIdleConnections()
			o.ObserveInt64(peersActive, active)
			o.ObserveInt64(peersIdle, idle)
			return nil
		},
		peersActive, peersIdle,
	)
	if err != nil {
		return nil, err
	}

	go m.readPeerActivity()
	return m, nil
}

// PeerConnected increments the number of connected peers and increments number of idle connections
func (m *Metrics) PeerConnected(id string) {
	m.peers.Add(context.Background(), 1)
	m.mutexActivity.Lock()
	defer m.mutexActivity.Unlock()

	m.peerLastActive[id] = time.Time{}
}

// PeerDisconnected decrements the number of connected peers and decrements number of idle or active connections
func (m *Metrics) PeerDisconnected(id string) {
	m.peers.Add(context.Background(), -1)
	m.mutexActivity.Lock()
	defer m.mutexActivity.Unlock()

	delete(m.peerLastActive, id)
}

// PeerActivity marks the peer as active
func (m *Metrics) PeerActivity(peerID string) {
	select {
	case m.peerActivityChan <- peerID:
	case <-m.ctx.Done():
	}
}

// QueryReceived counts a question, dialect is the wire form it arrived in
func (m *Metrics) QueryReceived(dialect string) {
	m.queries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("dialect", dialect)))
}

func (m *Metrics) AuthFailed() {
	m.authFailures.Add(context.Background(), 1)
}

// AnswerDuration records how long the answer backend took, failed tells whether the fallback text was sent
func (m *Metrics) AnswerDuration(d time.Duration, failed bool) {
	m.answerDuration.Record(context.Background(), d.Milliseconds(), metric.WithAttributes(attribute.Bool("failed", failed)))
}

func (m *Metrics) calculateActiveIdleConnections() (int64, int64) {
	active, idle := int64(0), int64(0)
	m.mutexActivity.Lock()
	defer m.mutexActivity.Unlock()

	for _, lastActive := range m.peerLastActive {
		if time.Since(lastActive) > idleTimeout {
			idle++
		} else {
			active++
		}
	}
	return active, idle
}

func (m *Metrics) readPeerActivity() {
	for {
		select {
		case peerID := <-m.peerActivityChan:
			m.mutexActivity.Lock()
			if _, ok := m.peerLastActive[peerID]; ok {
				m.peerLastActive[peerID] = time.Now()
			}
			m.mutexActivity.Unlock()
		case <-m.ctx.Done():
			return
		}
	}
}
