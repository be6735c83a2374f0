// Package telemetry provides Prometheus metrics, OpenTelemetry tracing, and
// correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatSessionsStarted prometheus.Counter
	ChatSessionsEnded   *prometheus.CounterVec // label: reason
	ChatReconnects      prometheus.Counter
	ChatLinesReceived   *prometheus.CounterVec // label: command
	ChatMalformedLines  prometheus.Counter
	ChatOutboundDropped prometheus.Counter
	ChatMessagesSent    prometheus.Counter
	TokenRefreshes      *prometheus.CounterVec // label: result
	EventsDropped       prometheus.Counter

	// Histograms (seconds)
	ChatSessionDuration  prometheus.Observer
	TokenRefreshDuration prometheus.Histogram

	// Gauges
	ChatConnectedGauge prometheus.Gauge // 1=streaming,0=not
	EventSubscribers   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_sessions_started_total", Help: "Number of chat sessions dialed"})
		ChatSessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_sessions_ended_total", Help: "Number of chat sessions ended, by reason"}, []string{"reason"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnects_total", Help: "Number of reconnect attempts scheduled after a failed session"})
		ChatLinesReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_lines_received_total", Help: "Inbound protocol lines by command"}, []string{"command"})
		ChatMalformedLines = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_malformed_lines_total", Help: "Inbound lines dropped as malformed"})
		ChatOutboundDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_outbound_dropped_total", Help: "Outbound lines dropped because the queue was full or closed"})
		ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_sent_total", Help: "Chat messages queued by Send"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "oauth_token_refreshes_total", Help: "Access token refresh attempts by result"}, []string{"result"})
		ChatSessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_session_duration_seconds",
			Help:    "Lifetime of chat sessions that reached streaming",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		})
		TokenRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "oauth_token_refresh_duration_seconds",
			Help:    "Time spent refreshing the Twitch access token",
			Buckets: prometheus.DefBuckets,
		})
		ChatConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_connected", Help: "Chat session streaming=1 otherwise 0"})
		EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_dropped_total", Help: "Events not delivered to a slow event-stream subscriber"})
		EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_event_subscribers", Help: "Open event-stream subscriptions"})
	})
}

// knownCommands bounds the label cardinality of ChatLinesReceived.
var knownCommands = map[string]bool{
	"PRIVMSG": true, "PING": true, "USERNOTICE": true, "CLEARCHAT": true, "CLEARMSG": true,
	"RECONNECT": true, "NOTICE": true, "001": true, "JOIN": true, "PART": true,
	"ROOMSTATE": true, "USERSTATE": true, "GLOBALUSERSTATE": true, "CAP": true,
}

// IncLine counts an inbound line by command; unusual commands share "other".
func IncLine(command string) {
	if ChatLinesReceived == nil {
		return
	}
	if !knownCommands[command] {
		command = "other"
	}
	ChatLinesReceived.WithLabelValues(command).Inc()
}

// SetChatConnected sets gauge to 1 if connected else 0.
func SetChatConnected(connected bool) {
	if ChatConnectedGauge != nil {
		if connected {
			ChatConnectedGauge.Set(1)
		} else {
			ChatConnectedGauge.Set(0)
		}
	}
}

// SessionEnded records why a session ended and, if it streamed, for how long.
func SessionEnded(reason string, streamed time.Duration) {
	if ChatSessionsEnded != nil {
		ChatSessionsEnded.WithLabelValues(reason).Inc()
	}
	if streamed > 0 && ChatSessionDuration != nil {
		ChatSessionDuration.Observe(streamed.Seconds())
	}
}

// Inc increments c if it was initialised.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// RecordRefresh counts a token refresh outcome.
func RecordRefresh(err error) {
	if TokenRefreshes == nil {
		return
	}
	if err != nil {
		TokenRefreshes.WithLabelValues("error").Inc()
		return
	}
	TokenRefreshes.WithLabelValues("ok").Inc()
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// TimeRefresh runs a token refresh, timing it and counting its outcome.
func TimeRefresh(fn func() error) error {
	var err error
	var obs prometheus.Observer
	if TokenRefreshDuration != nil {
		obs = TokenRefreshDuration
	}
	TimeFunc(obs, func() { err = fn() })
	RecordRefresh(err)
	return err
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
