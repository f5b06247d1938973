package infra

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttQoS            = 0
)

// Subscription binds a topic filter to its message handler.
type Subscription struct {
	Topic   string
	Handler func(topic string, payload []byte)
}

// MQTTClient wraps paho to implement the gateway's Publisher seam and
// drive its inbound handlers.
//
// Delivery callbacks are serialized: paho's default router dispatches
// messages in order on a single goroutine, so the gateway's handlers
// never race each other. Publishes are a non-blocking hand-off; a
// failed delivery is logged, not retried.
type MQTTClient struct {
	client mqtt.Client
	subs   []Subscription
}

// NewMQTTClient builds a client for the broker at host:port. Connect
// must be called before use.
func NewMQTTClient(host string, port int) *MQTTClient {
	m := &MQTTClient{}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID("privacy-gateway-" + uuid.NewString()).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("[MQTT] Connection lost", "error", err)
		})

	m.client = mqtt.NewClient(opts)
	return m
}

// Connect establishes the broker session and registers the
// subscriptions. They are re-established on every reconnect.
func (m *MQTTClient) Connect(subs []Subscription) error {
	m.subs = subs
	token := m.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// onConnect runs on every (re)connect and restores the subscriptions.
func (m *MQTTClient) onConnect(client mqtt.Client) {
	slog.Info("[MQTT] Connected to broker")
	for _, sub := range m.subs {
		handler := sub.Handler
		token := client.Subscribe(sub.Topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		if token.WaitTimeout(mqttConnectTimeout) && token.Error() == nil {
			slog.Info("[MQTT] Subscribed", "topic", sub.Topic)
		} else {
			slog.Error("[MQTT] Subscribe failed", "topic", sub.Topic, "error", token.Error())
		}
	}
}

// Publish hands the message to paho's outbound queue and returns
// without waiting for delivery. Delivery failures surface in the
// background log.
func (m *MQTTClient) Publish(topic string, payload []byte) error {
	token := m.client.Publish(topic, mqttQoS, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			slog.Error("[MQTT] Publish failed", "topic", topic, "error", err)
		}
	}()
	return nil
}

// Connected reports whether the broker session is up, for health
// checks.
func (m *MQTTClient) Connected() bool {
	return m.client.IsConnectionOpen()
}

// Disconnect closes the broker session, waiting quiesce for in-flight
// work.
func (m *MQTTClient) Disconnect(quiesce uint) {
	m.client.Disconnect(quiesce)
}
