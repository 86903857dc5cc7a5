package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/clobwatch/internal/model"
)

var (
	promMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobwatch_messages_received_total",
		Help: "Raw frames received from the venue transport.",
	}, []string{"venue"})
	promUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobwatch_updates_applied_total",
		Help: "Book updates applied to the store.",
	}, []string{"venue"})
	promParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobwatch_parse_errors_total",
		Help: "Frames dropped due to malformed or unexpected payloads.",
	}, []string{"venue"})
	promUnknownTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobwatch_unknown_tokens_total",
		Help: "Updates dropped because the token is not in the universe.",
	}, []string{"venue"})
	promDroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobwatch_dropped_frames_total",
		Help: "Frames dropped because the event channel was full.",
	}, []string{"venue"})
	promTransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobwatch_transport_errors_total",
		Help: "Transport failures triggering a reconnect.",
	}, []string{"venue"})
	promSeqGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobwatch_sequence_gaps_total",
		Help: "Venue sequence gaps detected across all keys.",
	}, []string{"venue"})
	promSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clobwatch_subscriptions",
		Help: "Current subscription count.",
	}, []string{"venue"})
	promBufferedRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clobwatch_writer_buffered_rows",
		Help: "Rows buffered in the columnar writer.",
	}, []string{"venue"})
)

// seqTracker tracks venue-provided sequence continuity for one key.
// State is per key by construction; a process-wide tracker would
// report spurious gaps whenever updates interleave across keys.
type seqTracker struct {
	last       int64
	gaps       int64
	outOfOrder int64
}

func (t *seqTracker) observe(seq int64) {
	switch {
	case t.last == 0:
		t.last = seq
	case seq < t.last:
		t.outOfOrder++
	case seq > t.last+1:
		t.gaps += seq - t.last - 1
		t.last = seq
	default:
		t.last = seq
	}
}

// Metrics holds one venue's counters. All counter methods are safe
// for concurrent use; totals use atomics, gap state a mutex.
type Metrics struct {
	venue string

	messages        atomic.Int64
	updates         atomic.Int64
	parseErrors     atomic.Int64
	unknownTokens   atomic.Int64
	droppedFrames   atomic.Int64
	transportErrors atomic.Int64
	writerDrops     atomic.Int64

	gapMu sync.Mutex
	gaps  map[model.Key]*seqTracker
}

// New creates counters for one venue.
func New(venue string) *Metrics {
	return &Metrics{
		venue: venue,
		gaps:  make(map[model.Key]*seqTracker),
	}
}

// Venue returns the venue these counters belong to.
func (m *Metrics) Venue() string { return m.venue }

// RecordMessage counts one received transport frame.
func (m *Metrics) RecordMessage() {
	m.messages.Add(1)
	promMessages.WithLabelValues(m.venue).Inc()
}

// RecordUpdate counts one applied book update and feeds the gap
// detector. venueSeq of 0 means the venue supplied no sequence and
// gap tracking is skipped for this update.
func (m *Metrics) RecordUpdate(key model.Key, venueSeq int64) {
	m.updates.Add(1)
	promUpdates.WithLabelValues(m.venue).Inc()

	if venueSeq == 0 {
		return
	}
	m.gapMu.Lock()
	t, ok := m.gaps[key]
	if !ok {
		t = &seqTracker{}
		m.gaps[key] = t
	}
	before := t.gaps
	t.observe(venueSeq)
	delta := t.gaps - before
	m.gapMu.Unlock()

	if delta > 0 {
		promSeqGaps.WithLabelValues(m.venue).Add(float64(delta))
	}
}

// RecordParseError counts a malformed frame.
func (m *Metrics) RecordParseError() {
	m.parseErrors.Add(1)
	promParseErrors.WithLabelValues(m.venue).Inc()
}

// RecordUnknownToken counts an update for a token missing from the
// universe. One counter for all such tokens; no per-message logging.
func (m *Metrics) RecordUnknownToken() {
	m.unknownTokens.Add(1)
	promUnknownTokens.WithLabelValues(m.venue).Inc()
}

// RecordDroppedFrame counts a frame dropped on channel overflow.
func (m *Metrics) RecordDroppedFrame() {
	m.droppedFrames.Add(1)
	promDroppedFrames.WithLabelValues(m.venue).Inc()
}

// RecordTransportError counts a transport failure.
func (m *Metrics) RecordTransportError() {
	m.transportErrors.Add(1)
	promTransportErrors.WithLabelValues(m.venue).Inc()
}

// RecordWriterDrop counts a partition buffer abandoned after
// exhausting write retries.
func (m *Metrics) RecordWriterDrop() {
	m.writerDrops.Add(1)
}

// SetSubscriptions publishes the current subscription count gauge.
func (m *Metrics) SetSubscriptions(n int) {
	promSubscriptions.WithLabelValues(m.venue).Set(float64(n))
}

// SetBufferedRows publishes the writer buffer gauge.
func (m *Metrics) SetBufferedRows(n int) {
	promBufferedRows.WithLabelValues(m.venue).Set(float64(n))
}

// Summary is a point-in-time copy of all counters.
type Summary struct {
	Messages        int64
	Updates         int64
	ParseErrors     int64
	UnknownTokens   int64
	DroppedFrames   int64
	TransportErrors int64
	WriterDrops     int64
	SeqGaps         int64
	OutOfOrder      int64
	KeysWithGaps    int
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() Summary {
	s := Summary{
		Messages:        m.messages.Load(),
		Updates:         m.updates.Load(),
		ParseErrors:     m.parseErrors.Load(),
		UnknownTokens:   m.unknownTokens.Load(),
		DroppedFrames:   m.droppedFrames.Load(),
		TransportErrors: m.transportErrors.Load(),
		WriterDrops:     m.writerDrops.Load(),
	}
	m.gapMu.Lock()
	for _, t := range m.gaps {
		s.SeqGaps += t.gaps
		s.OutOfOrder += t.outOfOrder
		if t.gaps > 0 || t.outOfOrder > 0 {
			s.KeysWithGaps++
		}
	}
	m.gapMu.Unlock()
	return s
}

// GapCount returns the gap total for one key (zero if untracked).
func (m *Metrics) GapCount(key model.Key) int64 {
	m.gapMu.Lock()
	defer m.gapMu.Unlock()
	if t, ok := m.gaps[key]; ok {
		return t.gaps
	}
	return 0
}
