// Package metrics holds the Prometheus instruments of ecal-go.
//
// A nil *Metrics is valid and records nothing, so components take an
// optional *Metrics and never check for it themselves.
package metrics

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmacdonaldsmith/ecal-go/internal/errs"
)

const namespace = "ecal"

// Metrics groups every instrument
type Metrics struct {
	publisherWrites      *prometheus.CounterVec
	publisherLayerSends  *prometheus.CounterVec
	publisherSubscribers *prometheus.GaugeVec
	layerStarts          *prometheus.CounterVec
	samplesSent          *prometheus.CounterVec
	samplesReceived      *prometheus.CounterVec
	decodeErrors         prometheus.Counter
	subscriberFrames     *prometheus.CounterVec
	subscriberDuplicates *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
// A nil registerer yields a nil *Metrics.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		publisherWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "writes_total",
			Help:      "Publisher write calls by outcome",
		}, []string{"topic", "result"}),
		publisherLayerSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "layer_sends_total",
			Help:      "Per-layer send attempts by outcome",
		}, []string{"topic", "layer", "result"}),
		publisherSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "subscribers",
			Help:      "Connected subscribers per topic",
		}, []string{"topic"}),
		layerStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "layer_starts_total",
			Help:      "Transport layer writers started",
		}, []string{"layer"}),
		samplesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "samples_sent_total",
			Help:      "Registration samples broadcast",
		}, []string{"type"}),
		samplesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "samples_received_total",
			Help:      "Registration samples received",
		}, []string{"type"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registration",
			Name:      "decode_errors_total",
			Help:      "Registration datagrams that failed to decode",
		}),
		subscriberFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "frames_total",
			Help:      "Frames delivered to subscribers",
		}, []string{"topic", "layer"}),
		subscriberDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "duplicates_total",
			Help:      "Frames dropped because another layer delivered them first",
		}, []string{"topic"}),
	}

	collectors := []prometheus.Collector{
		m.publisherWrites,
		m.publisherLayerSends,
		m.publisherSubscribers,
		m.layerStarts,
		m.samplesSent,
		m.samplesReceived,
		m.decodeErrors,
		m.subscriberFrames,
		m.subscriberDuplicates,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if stderrors.As(err, &already) {
				return nil, errs.WrapInvalid(err, "Metrics", "New", "register collector")
			}
			return nil, errs.WrapFatal(err, "Metrics", "New", "register collector")
		}
	}
	return m, nil
}

// PublisherWrite counts one Write call
func (m *Metrics) PublisherWrite(topic, result string) {
	if m == nil {
		return
	}
	m.publisherWrites.WithLabelValues(topic, result).Inc()
}

// LayerSend counts one per-layer send
func (m *Metrics) LayerSend(topic, layer string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.publisherLayerSends.WithLabelValues(topic, layer, result).Inc()
}

// SetSubscribers records the connected subscriber count of a topic
func (m *Metrics) SetSubscribers(topic string, n int) {
	if m == nil {
		return
	}
	m.publisherSubscribers.WithLabelValues(topic).Set(float64(n))
}

// DeleteTopic drops the per-topic gauge
func (m *Metrics) DeleteTopic(topic string) {
	if m == nil {
		return
	}
	m.publisherSubscribers.DeleteLabelValues(topic)
}

// LayerStarted counts one writer start
func (m *Metrics) LayerStarted(layer string) {
	if m == nil {
		return
	}
	m.layerStarts.WithLabelValues(layer).Inc()
}

// SampleSent counts one broadcast sample
func (m *Metrics) SampleSent(sampleType string) {
	if m == nil {
		return
	}
	m.samplesSent.WithLabelValues(sampleType).Inc()
}

// SampleReceived counts one received sample
func (m *Metrics) SampleReceived(sampleType string) {
	if m == nil {
		return
	}
	m.samplesReceived.WithLabelValues(sampleType).Inc()
}

// DecodeError counts one undecodable datagram
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// SubscriberFrame counts one delivered frame
func (m *Metrics) SubscriberFrame(topic, layer string) {
	if m == nil {
		return
	}
	m.subscriberFrames.WithLabelValues(topic, layer).Inc()
}

// SubscriberDuplicate counts one dropped duplicate
func (m *Metrics) SubscriberDuplicate(topic string) {
	if m == nil {
		return
	}
	m.subscriberDuplicates.WithLabelValues(topic).Inc()
}
