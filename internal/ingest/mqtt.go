package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/wattmon/internal/metrics"
)

// defaultConnectWait bounds how long Run waits for the first connection
// before leaving the retries to the client in the background.
const defaultConnectWait = 30 * time.Second

// DefaultMQTTTopic is the topic devices publish readings to.
const DefaultMQTTTopic = "wattmon/readings"

// MQTTConfig configures the MQTT subscriber.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// Validate checks the configuration and fills defaults.
func (c *MQTTConfig) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt broker is required")
	}
	if c.Topic == "" {
		c.Topic = DefaultMQTTTopic
	}
	if c.ClientID == "" {
		c.ClientID = "wattmon"
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.QoS)
	}
	return nil
}

// MQTTSubscriber feeds readings published on a topic into the ingest service.
// A payload is either a single reading object or an array of them.
type MQTTSubscriber struct {
	cfg     MQTTConfig
	service *Service
	client  mqtt.Client
	log     zerolog.Logger
	ctx     context.Context

	connectWait time.Duration
}

// NewMQTTSubscriber creates a subscriber. Call Run to connect.
func NewMQTTSubscriber(cfg MQTTConfig, service *Service, logger zerolog.Logger) (*MQTTSubscriber, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &MQTTSubscriber{
		cfg:     cfg,
		service: service,
		log:     logger.With().Str("component", "mqtt").Str("topic", cfg.Topic).Logger(),
		ctx:     context.Background(),

		connectWait: defaultConnectWait,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn().Err(err).Msg("connection lost")
	})
	// Subscribing on every connect restores the subscription after a reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(cfg.Topic, cfg.QoS, s.handleMessage)
		if token.Wait() && token.Error() != nil {
			s.log.Error().Err(token.Error()).Msg("subscribe failed")
			return
		}
		s.log.Info().Str("broker", cfg.Broker).Msg("subscribed")
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Run connects to the broker and blocks until ctx is done. An unreachable
// broker is not fatal: the client keeps retrying and IsConnected reports
// the state until the connection comes up.
func (s *MQTTSubscriber) Run(ctx context.Context) error {
	s.ctx = ctx
	token := s.client.Connect()

	wait := time.NewTimer(s.connectWait)
	defer wait.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			s.log.Warn().Err(err).Str("broker", s.cfg.Broker).Msg("mqtt connect failed, retrying in background")
		}
	case <-wait.C:
		s.log.Warn().Str("broker", s.cfg.Broker).Dur("waited", s.connectWait).Msg("mqtt broker unreachable, retrying in background")
	case <-ctx.Done():
	}

	<-ctx.Done()
	if s.client.IsConnectionOpen() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
	s.log.Info().Msg("mqtt subscriber stopped")
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (s *MQTTSubscriber) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

func (s *MQTTSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	metrics.MQTTMessagesTotal.Inc()
	result, err := s.handlePayload(s.ctx, msg.Payload())
	if err != nil {
		s.log.Warn().Err(err).Str("message_topic", msg.Topic()).Msg("payload rejected")
		return
	}
	s.log.Debug().Int("stored", result.Stored).Int("skipped", result.Skipped).Msg("payload ingested")
}

func (s *MQTTSubscriber) handlePayload(ctx context.Context, payload []byte) (BatchResult, error) {
	inputs, err := DecodePayload(payload)
	if err != nil {
		metrics.IngestValidationFailures.WithLabelValues(TransportMQTT).Inc()
		return BatchResult{}, err
	}
	return s.service.ingestBatch(ctx, inputs, TransportMQTT)
}

// DecodePayload decodes a JSON reading object or array of reading objects.
func DecodePayload(payload []byte) ([]ReadingInput, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}

	if payload[0] == '[' {
		var inputs []ReadingInput
		if err := json.Unmarshal(payload, &inputs); err != nil {
			return nil, fmt.Errorf("invalid reading array: %w", err)
		}
		return inputs, nil
	}

	var input ReadingInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("invalid reading: %w", err)
	}
	return []ReadingInput{input}, nil
}
