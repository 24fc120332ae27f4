package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sakif/proteeti/internal/model"
)

// AlertEvent is published whenever an SOS alert changes state.
type AlertEvent struct {
	AlertID   int64             `json:"alert_id"`
	Username  string            `json:"username"`
	Status    model.AlertStatus `json:"status"`
	Lat       float64           `json:"lat"`
	Lng       float64           `json:"lng"`
	Accuracy  float64           `json:"accuracy"`
	MapsURL   string            `json:"maps_url"`
	CreatedAt time.Time         `json:"created_at"`
	At        time.Time         `json:"at"`
}

// EventPublisher announces alert transitions to external listeners.
type EventPublisher interface {
	PublishAlert(ctx context.Context, alert model.SOSAlert) error
	Close()
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishAlert(context.Context, model.SOSAlert) error { return nil }
func (NoopPublisher) Close()                                             {}

// MQTTSettings configures the broker connection.
type MQTTSettings struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// mqttPublisher is the part of mqtt.Client we use.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

const publishTimeout = 5 * time.Second

// MQTTPublisher publishes AlertEvents to {prefix}/sos/{status} with QoS 1.
type MQTTPublisher struct {
	client mqttPublisher
	prefix string
	logger *slog.Logger
}

// NewMQTTPublisher connects to the broker. The client reconnects on its own
// after the initial connection succeeds.
func NewMQTTPublisher(s MQTTSettings, logger *slog.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.Broker)
	opts.SetClientID(s.ClientID)
	if s.Username != "" {
		opts.SetUsername(s.Username)
	}
	if s.Password != "" {
		opts.SetPassword(s.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("notify: connecting to mqtt broker %s: %w", s.Broker, token.Error())
	}
	logger.Info("connected to mqtt broker", slog.String("broker", s.Broker))

	return newMQTTPublisher(client, s.TopicPrefix, logger), nil
}

func newMQTTPublisher(client mqttPublisher, prefix string, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, logger: logger}
}

// Topic returns the topic for an alert status.
func (p *MQTTPublisher) Topic(status model.AlertStatus) string {
	return p.prefix + "/sos/" + string(status)
}

func (p *MQTTPublisher) PublishAlert(ctx context.Context, alert model.SOSAlert) error {
	ev := AlertEvent{
		AlertID:   alert.ID,
		Username:  alert.Username,
		Status:    alert.Status,
		Lat:       alert.Lat,
		Lng:       alert.Lng,
		Accuracy:  alert.Accuracy,
		MapsURL:   MapsURL(alert.Lat, alert.Lng),
		CreatedAt: alert.CreatedAt,
		At:        time.Now().UTC(),
	}
	if alert.ResolvedAt != nil {
		ev.At = *alert.ResolvedAt
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encoding alert event: %w", err)
	}

	topic := p.Topic(alert.Status)
	token := p.client.Publish(topic, 1, false, payload)

	timeout := publishTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("notify: publishing to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: publishing to %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
