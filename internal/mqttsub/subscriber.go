// Package mqttsub feeds sensor readings published over MQTT into the
// accrual service.
package mqttsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"energytiles/internal/accrual"
	"energytiles/internal/metrics"
)

// Recorder is the accrual operation the subscriber drives.
type Recorder interface {
	RecordSensorReading(ctx context.Context, r accrual.SensorReading) (accrual.SensorResult, error)
}

// Payload is the JSON body of a reading. TileID may be omitted when the
// topic names the tile (tiles/{tile_id}/readings).
type Payload struct {
	Username  string         `json:"username"`
	TileID    string         `json:"tile_id,omitempty"`
	EnergyWh  *float64       `json:"electricity_wh"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ParseReading decodes a payload received on topic.
func ParseReading(topic string, payload []byte) (accrual.SensorReading, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return accrual.SensorReading{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.TileID == "" {
		p.TileID = tileFromTopic(topic)
	}
	if p.EnergyWh == nil {
		return accrual.SensorReading{}, errors.New("missing electricity_wh")
	}
	return accrual.SensorReading{
		Username:  p.Username,
		TileID:    p.TileID,
		EnergyWh:  *p.EnergyWh,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Metadata:  p.Metadata,
	}, nil
}

func tileFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "tiles" {
		return parts[1]
	}
	return ""
}

// Subscriber owns the MQTT client.
type Subscriber struct {
	client mqtt.Client
	topic  string
	rec    Recorder
}

// Options configures a Subscriber.
type Options struct {
	Broker   string
	ClientID string
	Topic    string
}

// New builds a Subscriber. Call Start to connect.
func New(opts Options, rec Recorder) *Subscriber {
	s := &Subscriber{topic: opts.Topic, rec: rec}

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false)
	// Subscriptions are lost with the session, so re-subscribe on every
	// (re)connect.
	co.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(s.topic, 1, s.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("mqtt: subscribe %s: %v", s.topic, err)
			return
		}
		log.Printf("mqtt: subscribed to %s", s.topic)
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
	})

	s.client = mqtt.NewClient(co)
	return s
}

// Start connects in the background; the client keeps retrying until the
// broker is reachable.
func (s *Subscriber) Start() {
	s.client.Connect()
}

// Stop disconnects, waiting up to 250ms for in-flight work.
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.handle(context.Background(), msg.Topic(), msg.Payload())
}

func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) {
	reading, err := ParseReading(topic, payload)
	if err != nil {
		metrics.MQTTMessagesTotal.WithLabelValues(metrics.ResultError).Inc()
		log.Printf("mqtt: %s: %v", topic, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := s.rec.RecordSensorReading(ctx, reading)
	if err != nil {
		metrics.MQTTMessagesTotal.WithLabelValues(metrics.ResultError).Inc()
		log.Printf("mqtt: reading for user=%s tile=%s rejected: %v", reading.Username, reading.TileID, err)
		return
	}
	metrics.MQTTMessagesTotal.WithLabelValues(metrics.ResultOK).Inc()
	log.Printf("mqtt: credited %.4f Wh (%.2f points) to %s on %s", res.EnergyWh, res.RewardPoints, reading.Username, res.TileName)
}
