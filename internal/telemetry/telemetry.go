// Package telemetry mirrors application messages to an MQTT broker so a
// running pair can be watched from outside.
package telemetry

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/internal/msgbus"
	"github.com/srg/twsync/pkg/config"
	"github.com/srg/twsync/pkg/event"
)

// ErrDisabled is returned by Connect when no broker is configured
var ErrDisabled = errors.New("telemetry disabled")

// Publisher is the part of an MQTT client the sink needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// Record is the JSON payload of one mirrored message
type Record struct {
	Device  string `json:"device"`
	Target  string `json:"target"`
	Kind    string `json:"kind"`
	Cmd     uint32 `json:"cmd"`
	Value   uint32 `json:"value"`
	Payload string `json:"payload,omitempty"`
}

// Sink publishes every message accepted by the buses it is attached to
type Sink struct {
	pub    Publisher
	prefix string
	qos    byte
	logger *logrus.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewSink creates a sink publishing under <prefix>/<device>/<kind>
func NewSink(pub Publisher, cfg config.MQTTConfig, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sink{
		pub:    pub,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:    cfg.QoS,
		logger: logger,
	}
}

// topicSegment replaces characters that are separators or wildcards in MQTT topics
func topicSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '_'
		}
		return r
	}, s)
}

// Topic returns the topic messages of kind from device are published on
func (s *Sink) Topic(device string, kind event.Kind) string {
	if s.prefix == "" {
		return fmt.Sprintf("%s/%s", topicSegment(device), kind)
	}
	return fmt.Sprintf("%s/%s/%s", s.prefix, topicSegment(device), kind)
}

// Encode renders msg as the JSON record sent to the broker
func Encode(device, target string, msg event.Message) ([]byte, error) {
	r := Record{
		Device: device,
		Target: target,
		Kind:   msg.Kind.String(),
		Cmd:    msg.Cmd,
		Value:  msg.Value,
	}
	if len(msg.Payload) > 0 {
		r.Payload = hex.EncodeToString(msg.Payload)
	}
	return json.Marshal(r)
}

// Publish mirrors one message. Failures are logged and counted, never returned:
// telemetry must not disturb the sender.
func (s *Sink) Publish(device, target string, msg event.Message) {
	data, err := Encode(device, target, msg)
	if err == nil {
		err = s.pub.Publish(s.Topic(device, msg.Kind), s.qos, false, data)
	}
	if err != nil {
		s.failed.Add(1)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"device": device,
			"target": target,
			"kind":   msg.Kind,
		}).Debug("Telemetry publish failed")
		return
	}
	s.published.Add(1)
}

// Attach adds the sink as a tap on the bus of device
func (s *Sink) Attach(bus *msgbus.Bus, device string) {
	bus.AddTap(func(target string, msg event.Message) {
		s.Publish(device, target, msg)
	})
}

// Stats returns the number of published and failed messages
func (s *Sink) Stats() (published, failed uint64) {
	return s.published.Load(), s.failed.Load()
}

// Close disconnects the publisher
func (s *Sink) Close() {
	s.pub.Close()
	published, failed := s.Stats()
	s.logger.WithFields(logrus.Fields{
		"published": published,
		"failed":    failed,
	}).Info("Telemetry closed")
}
