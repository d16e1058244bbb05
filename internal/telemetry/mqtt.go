package telemetry

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/twsync/pkg/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 2 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 30 * time.Second
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrPublishTimeout   = errors.New("mqtt publish timed out")
)

type mqttPublisher struct {
	client pahomqtt.Client
}

func clientOptions(cfg config.MQTTConfig, logger *logrus.Logger) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WithError(err).WithField("broker", cfg.Broker).Warn("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logger.WithField("broker", cfg.Broker).Info("MQTT connected")
	})
	return opts
}

// Connect opens a client to cfg.Broker. It returns ErrDisabled when no broker is set.
func Connect(cfg config.MQTTConfig, logger *logrus.Logger) (Publisher, error) {
	if cfg.Broker == "" {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = logrus.New()
	}

	client := pahomqtt.NewClient(clientOptions(cfg, logger))
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return &mqttPublisher{client: client}, nil
}

func (p *mqttPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}
