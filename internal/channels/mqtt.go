// Package channels connects the learning engine to the outside world. The
// MQTT channel ingests behavioral events and feedback from the home broker
// and publishes processing results and reminder proposals. It never actuates
// anything: a proposal is a message, not a command.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Andriy31193/aipatterner/internal/engine"
	"github.com/Andriy31193/aipatterner/internal/events"
)

// topic suffixes under the configured prefix
const (
	eventsTopic    = "%s/people/+/events"     // producer to engine
	feedbackTopic  = "%s/people/+/feedback"   // person replies to engine
	resultsTopic   = "%s/people/%s/results"   // engine to consumers
	proposalsTopic = "%s/people/%s/proposals" // dispatcher to consumers
)

// Processor is the engine surface the channel feeds.
type Processor interface {
	IngestEvent(ctx context.Context, ev *events.ActionEvent) (*engine.Result, error)
	HandleFeedback(ctx context.Context, fb engine.Feedback) error
}

// Proposal is the message published when a reminder is due or newly
// reinforced. Consumers decide what, if anything, to do with it.
type Proposal struct {
	ReminderID      string    `json:"reminderId"`
	PersonID        string    `json:"personId"`
	SuggestedAction string    `json:"suggestedAction"`
	Confidence      float64   `json:"confidence"`
	Occurrence      string    `json:"occurrence"`
	ProposedAt      time.Time `json:"proposedAt"`
}

// MQTTChannel bridges the broker and the engine.
type MQTTChannel struct {
	broker      string
	port        int
	clientID    string
	username    string
	password    string
	topicPrefix string
	processor   Processor
	logger      *slog.Logger
	client      MQTTClient
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	// Factory function for creating MQTT client
	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
}

// NewMQTT creates a new MQTT channel adapter.
func NewMQTT(broker string, port int, username, password, topicPrefix string, processor Processor, logger *slog.Logger) *MQTTChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTChannel{
		broker:      broker,
		port:        port,
		clientID:    fmt.Sprintf("aipatterner-%d", time.Now().Unix()),
		username:    username,
		password:    password,
		topicPrefix: topicPrefix,
		processor:   processor,
		logger:      logger.With("channel", "mqtt"),
		clientFactory: func(opts *mqtt.ClientOptions) MQTTClient {
			return &DefaultMQTTClient{client: mqtt.NewClient(opts)}
		},
	}
}

// NewMQTTWithClient creates an MQTT channel with a custom client factory (for testing).
func NewMQTTWithClient(broker string, port int, username, password, topicPrefix string, processor Processor, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *MQTTChannel {
	ch := NewMQTT(broker, port, username, password, topicPrefix, processor, logger)
	ch.clientFactory = clientFactory
	return ch
}

func (m *MQTTChannel) Name() string {
	return "mqtt"
}

// Start connects to the broker and subscribes to the event and feedback
// topics. Reconnects re-subscribe automatically.
func (m *MQTTChannel) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", m.broker, m.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(m.clientID)

	if m.username != "" {
		opts.SetUsername(m.username)
		opts.SetPassword(m.password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost", "error", err)
	})

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		m.logger.Info("mqtt connected, subscribing to topics")
		if err := m.subscribe(); err != nil {
			m.logger.Error("failed to subscribe", "error", err)
		}
	})

	m.client = m.clientFactory(opts)

	m.logger.Info("connecting to mqtt broker", "broker", brokerURL)
	token := m.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}

	m.logger.Info("mqtt channel started")
	return nil
}

// Stop disconnects from the broker and waits for in-flight handlers.
func (m *MQTTChannel) Stop() error {
	m.logger.Info("stopping mqtt channel")

	if m.cancel != nil {
		m.cancel()
	}
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.wg.Wait()
	return nil
}

func (m *MQTTChannel) subscribe() error {
	subs := map[string]mqtt.MessageHandler{
		fmt.Sprintf(eventsTopic, m.topicPrefix):   m.handleEvent,
		fmt.Sprintf(feedbackTopic, m.topicPrefix): m.handleFeedback,
	}
	for topic, handler := range subs {
		token := m.client.Subscribe(topic, 1, handler)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("subscribe timeout")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		m.logger.Info("subscribed", "topic", topic)
	}
	return nil
}

// handleEvent decodes an ActionEvent and runs it through the engine. The
// person id segment of the topic fills in a missing personId field.
func (m *MQTTChannel) handleEvent(_ mqtt.Client, msg mqtt.Message) {
	m.wg.Add(1)
	defer m.wg.Done()

	var ev events.ActionEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		m.logger.Warn("dropping undecodable event", "topic", msg.Topic(), "error", err)
		return
	}
	if ev.PersonID == "" {
		ev.PersonID = topicPerson(msg.Topic())
	}

	res, err := m.processor.IngestEvent(m.ctx, &ev)
	if err != nil {
		m.logger.Error("event processing failed", "person", ev.PersonID, "error", err)
		return
	}
	m.publishJSON(fmt.Sprintf(resultsTopic, m.topicPrefix, ev.PersonID), res)
}

func (m *MQTTChannel) handleFeedback(_ mqtt.Client, msg mqtt.Message) {
	m.wg.Add(1)
	defer m.wg.Done()

	var fb engine.Feedback
	if err := json.Unmarshal(msg.Payload(), &fb); err != nil {
		m.logger.Warn("dropping undecodable feedback", "topic", msg.Topic(), "error", err)
		return
	}
	if err := m.processor.HandleFeedback(m.ctx, fb); err != nil {
		m.logger.Error("feedback processing failed", "reminder", fb.ReminderID, "error", err)
	}
}

// PublishProposal publishes a reminder proposal for its person. Used by the
// dispatcher's due-reminder sweep.
func (m *MQTTChannel) PublishProposal(ctx context.Context, p Proposal) error {
	if m.client == nil || !m.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	topic := fmt.Sprintf(proposalsTopic, m.topicPrefix, p.PersonID)
	token := m.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	m.logger.Debug("proposal published", "topic", topic, "reminder", p.ReminderID)
	return nil
}

func (m *MQTTChannel) publishJSON(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("marshal publish payload", "topic", topic, "error", err)
		return
	}
	token := m.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		m.logger.Warn("publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

// topicPerson extracts the person id segment from
// "<prefix>/people/<id>/events" style topics.
func topicPerson(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		if p == "people" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
