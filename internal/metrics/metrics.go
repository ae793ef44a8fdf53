package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_received_total",
		Help: "Total number of SendEvent calls received.",
	})
	eventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_accepted_total",
		Help: "Total number of events accepted into the broker's outgoing queue.",
	})
	submitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_submit_failures_total",
		Help: "Total number of failed submissions by classified kind.",
	}, []string{"kind"})
	brokerInits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_broker_initializations_total",
		Help: "Total number of broker session initialization attempts by result.",
	}, []string{"result"})
	brokerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_broker_session_state",
		Help: "Broker session state (0=uninitialized, 1=ready, 2=degraded, 3=closed).",
	})
	brokerGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_broker_session_generation",
		Help: "Initialization generation of the current broker handles.",
	})
	inflightMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_broker_inflight_messages",
		Help: "Messages accepted into the outgoing queue and not yet acknowledged.",
	})
	messagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broker_messages_delivered_total",
		Help: "Total number of messages acknowledged by the broker.",
	})
	deliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broker_delivery_failures_total",
		Help: "Total number of messages the broker client gave up on after retries.",
	})
	archiveWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_archive_writes_total",
		Help: "Total number of rejected-event archive writes by result.",
	}, []string{"result"})
	archiveDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_archive_dropped_total",
		Help: "Total number of rejected events dropped because the archive spool was full.",
	})
	archiveQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_archive_queue_depth",
		Help: "Number of rejected events waiting to be archived.",
	})

	collectorsOnce sync.Once
)

// Init registers default Go/process collectors. It is safe to call multiple times.
func Init() {
	collectorsOnce.Do(func() {
		registerCollector(collectors.NewGoCollector())
		registerCollector(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func registerCollector(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			_ = are.ExistingCollector
			return
		}
		panic(err)
	}
}

// IncEventsReceived counts an inbound SendEvent call.
func IncEventsReceived() {
	eventsReceived.Inc()
}

// IncEventsAccepted counts an event accepted into the outgoing queue.
func IncEventsAccepted() {
	eventsAccepted.Inc()
}

// IncSubmitFailure counts a failed submission under its classified kind.
func IncSubmitFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	submitFailures.WithLabelValues(kind).Inc()
}

// IncBrokerInit counts an initialization attempt.
func IncBrokerInit(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	brokerInits.WithLabelValues(result).Inc()
}

// SetBrokerSessionState records the numeric session state.
func SetBrokerSessionState(state int) {
	brokerState.Set(float64(state))
}

// SetBrokerGeneration records the current initialization generation.
func SetBrokerGeneration(gen uint64) {
	brokerGeneration.Set(float64(gen))
}

// AddInflightMessages adjusts the in-flight gauge by n, which may be negative.
func AddInflightMessages(n int) {
	inflightMessages.Add(float64(n))
}

// AddMessagesDelivered counts broker-acknowledged messages.
func AddMessagesDelivered(n int) {
	if n <= 0 {
		return
	}
	messagesDelivered.Add(float64(n))
}

// AddDeliveryFailures counts messages the client could not deliver.
func AddDeliveryFailures(n int) {
	if n <= 0 {
		return
	}
	deliveryFailures.Add(float64(n))
}

// IncArchiveWrite counts an archive write attempt outcome.
func IncArchiveWrite(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	archiveWrites.WithLabelValues(result).Inc()
}

// IncArchiveDropped counts a rejected event dropped by a full spool.
func IncArchiveDropped() {
	archiveDropped.Inc()
}

// SetArchiveQueueDepth records the current archive spool size.
func SetArchiveQueueDepth(n int) {
	if n < 0 {
		n = 0
	}
	archiveQueueDepth.Set(float64(n))
}
