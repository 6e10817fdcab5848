package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the session's operational metrics. It satisfies the
// metrics interfaces of the signaling, peer and chat packages.
type Collector struct {
	viewerCount      prometheus.Gauge
	openLinks        prometheus.Gauge
	reconnects       prometheus.Counter
	signalingMsgs    *prometheus.CounterVec
	chatComments     *prometheus.CounterVec
	linkSetupSeconds prometheus.Histogram
	mediaBytes       *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		viewerCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redlive_viewer_count",
			Help: "Viewers currently reported by the signaling channel",
		}),
		openLinks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redlive_open_peer_links",
			Help: "Peer media links currently open",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "redlive_signaling_reconnect_attempts_total",
			Help: "Signaling reconnect attempts scheduled",
		}),
		signalingMsgs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redlive_signaling_messages_total",
			Help: "Inbound signaling messages by type",
		}, []string{"type"}),
		chatComments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redlive_chat_comments_total",
			Help: "Chat comments by direction",
		}, []string{"direction"}),
		linkSetupSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "redlive_peer_link_setup_seconds",
			Help:    "Time from offer handling to connected state",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		mediaBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redlive_media_bytes_received_total",
			Help: "Remote media bytes received by track kind",
		}, []string{"kind"}),
	}
}

func (c *Collector) SetViewerCount(count int) {
	c.viewerCount.Set(float64(count))
}

func (c *Collector) RecordReconnectAttempt() {
	c.reconnects.Inc()
}

func (c *Collector) RecordSignalingMessage(msgType string) {
	c.signalingMsgs.WithLabelValues(msgType).Inc()
}

func (c *Collector) RecordLinkOpened() {
	c.openLinks.Inc()
}

func (c *Collector) RecordLinkClosed() {
	c.openLinks.Dec()
}

func (c *Collector) ObserveLinkSetup(d time.Duration) {
	c.linkSetupSeconds.Observe(d.Seconds())
}

func (c *Collector) RecordMediaBytes(kind string, n int) {
	c.mediaBytes.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) RecordCommentSent() {
	c.chatComments.WithLabelValues("sent").Inc()
}

func (c *Collector) RecordCommentReceived() {
	c.chatComments.WithLabelValues("received").Inc()
}
