package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/user/ce65_converter_go/internal/analysis"
	"github.com/user/ce65_converter_go/internal/config"
	"github.com/user/ce65_converter_go/internal/logging"
)

var ErrNotConnected = errors.New("publish: MQTT not connected")

// PlaneMessage is the MQTT payload for one converted event.
type PlaneMessage struct {
	RunID     string                 `json:"run_id"`
	Timestamp time.Time              `json:"timestamp"`
	DeviceN   uint32                 `json:"device"`
	EventN    uint32                 `json:"event"`
	Sensor    string                 `json:"sensor"`
	Mode      string                 `json:"mode"`
	Width     int                    `json:"width"`
	Height    int                    `json:"height"`
	Pixels    []analysis.SparsePixel `json:"pixels"`
}

// HotPixel is a ranked pixel in a summary payload.
type HotPixel struct {
	Column int `json:"x"`
	Row    int `json:"y"`
	Hits   int `json:"hits"`
}

// SummaryMessage is the MQTT payload sent at the end of a run.
type SummaryMessage struct {
	RunID      string     `json:"run_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Mode       string     `json:"mode"`
	Events     int        `json:"events"`
	Declined   int        `json:"declined"`
	Failed     int        `json:"failed"`
	Pixels     int        `json:"pixels"`
	MeanPixels float64    `json:"mean_pixels"`
	ColumnHits []int      `json:"column_hits"`
	HotPixels  []HotPixel `json:"hot_pixels"`
}

// NewRunID returns a fresh identifier tying the messages of one run together.
func NewRunID() string {
	return uuid.New().String()
}

// PlaneTopic is {prefix}/planes/{device}.
func PlaneTopic(prefix string, deviceN uint32) string {
	return fmt.Sprintf("%s/planes/%d", prefix, deviceN)
}

// SummaryTopic is {prefix}/runs/{run_id}/summary.
func SummaryTopic(prefix, runID string) string {
	return fmt.Sprintf("%s/runs/%s/summary", prefix, runID)
}

func BuildPlaneMessage(runID string, plane *analysis.StandardPlane, now time.Time) PlaneMessage {
	return PlaneMessage{
		RunID:     runID,
		Timestamp: now.UTC(),
		DeviceN:   plane.DeviceN,
		EventN:    plane.EventN,
		Sensor:    plane.Sensor,
		Mode:      plane.Mode.String(),
		Width:     plane.Width,
		Height:    plane.Height,
		Pixels:    plane.Pixels,
	}
}

func BuildSummaryMessage(runID string, s *analysis.RunSummary, now time.Time) SummaryMessage {
	msg := SummaryMessage{
		RunID:      runID,
		Timestamp:  now.UTC(),
		Mode:       s.Mode.String(),
		Events:     s.Events,
		Declined:   s.Declined,
		Failed:     s.Failed,
		Pixels:     s.Pixels,
		MeanPixels: s.MeanPixels,
		ColumnHits: s.ColumnHits,
		HotPixels:  make([]HotPixel, 0, len(s.RankedByHits)),
	}
	for _, px := range s.RankedByHits {
		msg.HotPixels = append(msg.HotPixels, HotPixel{Column: px.Column, Row: px.Row, Hits: int(px.Value)})
	}
	return msg
}

// Publisher sends planes and run summaries to an MQTT broker.
type Publisher struct {
	client mqtt.Client
	config config.MQTTConfig
	runID  string
	now    func() time.Time

	// OnPublished, when set, is called with "plane" or "summary" after each send.
	OnPublished func(kind string)
}

// NewPublisher connects to the configured broker. It returns nil, nil when
// publishing is disabled; a nil *Publisher accepts and drops every message.
func NewPublisher(cfg config.MQTTConfig, runID string) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "ce65_converter_" + runID
		if len(runID) > 8 {
			clientID = "ce65_converter_" + runID[:8]
		}
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logging.Infof("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logging.Warningf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	connected, err := awaitConnect(client.Connect(), 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	if connected {
		logging.Infof("MQTT: Connected to %s, run %s", cfg.Broker, runID)
	} else {
		logging.Warningf("MQTT: %s not reachable yet, retrying in background, run %s", cfg.Broker, runID)
	}

	return NewPublisherWithClient(client, cfg, runID), nil
}

// awaitConnect waits for the connect token. With connect retry enabled the
// token stays pending while the broker is unreachable; that is not an error.
func awaitConnect(token mqtt.Token, timeout time.Duration) (bool, error) {
	if !token.WaitTimeout(timeout) {
		return false, nil
	}
	if err := token.Error(); err != nil {
		return false, err
	}
	return true, nil
}

// NewPublisherWithClient wraps an already configured client.
func NewPublisherWithClient(client mqtt.Client, cfg config.MQTTConfig, runID string) *Publisher {
	return &Publisher{
		client: client,
		config: cfg,
		runID:  runID,
		now:    time.Now,
	}
}

func (p *Publisher) RunID() string {
	if p == nil {
		return ""
	}
	return p.runID
}

// PublishPlane sends one plane without waiting for the broker.
func (p *Publisher) PublishPlane(plane *analysis.StandardPlane) error {
	if p == nil {
		return nil
	}
	msg := BuildPlaneMessage(p.runID, plane, p.now())
	return p.publish("plane", PlaneTopic(p.config.TopicPrefix, plane.DeviceN), false, msg, false)
}

// PublishSummary sends the run summary as a retained message and waits for delivery.
func (p *Publisher) PublishSummary(s *analysis.RunSummary) error {
	if p == nil {
		return nil
	}
	msg := BuildSummaryMessage(p.runID, s, p.now())
	return p.publish("summary", SummaryTopic(p.config.TopicPrefix, p.runID), true, msg, true)
}

func (p *Publisher) publish(kind, topic string, retain bool, msg any, wait bool) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}

	token := p.client.Publish(topic, p.config.QoS, retain, data)
	done := func() {
		if token.Wait() && token.Error() != nil {
			logging.Errorf("MQTT: Failed to publish to %s: %v", topic, token.Error())
			return
		}
		logging.Debugf("MQTT: Published %s to %s", kind, topic)
		if p.OnPublished != nil {
			p.OnPublished(kind)
		}
	}
	if wait {
		done()
		return token.Error()
	}
	go done()
	return nil
}

// Disconnect gracefully disconnects from the broker.
func (p *Publisher) Disconnect() {
	if p != nil && p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		logging.Infof("MQTT: Disconnected from broker")
	}
}
