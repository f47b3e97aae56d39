// Package bridge connects the controller to the MQTT bus: sensor readings
// published by field gateways come in, valve-state events go out. It mirrors
// the HTTP ingestion path for fleets that report over the broker instead.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/growlog/irrigationd/internal/automation"
	"github.com/growlog/irrigationd/internal/metrics"
	"github.com/growlog/irrigationd/internal/model"
	"github.com/growlog/irrigationd/internal/store"
	"github.com/growlog/irrigationd/internal/valve"
	"github.com/growlog/irrigationd/pkg/dedup"
	"github.com/growlog/irrigationd/pkg/mqttbus"
)

type Bridge struct {
	store  *store.Store
	engine *automation.Engine
	pub    *mqttbus.Publisher
	seen   *dedup.Set

	dataTopic      string // subscription filter, e.g. "sensor/data/#"
	stateTopicTmpl string // e.g. "event/valveState/{device}"

	consumer *mqttbus.Consumer
}

func New(client mqtt.Client, st *store.Store, engine *automation.Engine, dataTopic, stateTopicTmpl string) *Bridge {
	b := &Bridge{
		store:          st,
		engine:         engine,
		pub:            mqttbus.NewPublisher(client),
		seen:           dedup.New(10*time.Minute, 20000),
		dataTopic:      dataTopic,
		stateTopicTmpl: stateTopicTmpl,
	}
	b.consumer = mqttbus.NewConsumer(client, dataTopic, 1, b.handleReading)
	return b
}

// Run blocks consuming sensor readings until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	b.consumer.Run(ctx)
}

// readingPayload is the wire form of an inbound reading. Moisture is a
// pointer so an absent field is distinguishable from a real 0% reading.
type readingPayload struct {
	DeviceID  string    `json:"device_id"`
	Moisture  *float64  `json:"moisture"`
	RawADC    *int      `json:"raw_adc_value"`
	Timestamp time.Time `json:"timestamp"`
}

func (b *Bridge) handleReading(topic string, payload []byte) error {
	// Readings arrive at QoS 1; drop byte-identical redeliveries before
	// touching the store.
	sum := sha256.Sum256(payload)
	if !b.seen.FirstSeen(hex.EncodeToString(sum[:])) {
		return nil
	}

	var req readingPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("bridge: bad payload on %s: %v", topic, err)
		return nil
	}
	if req.DeviceID == "" || req.Moisture == nil {
		log.Printf("bridge: reading without device_id or moisture on %s", topic)
		return nil
	}

	r := model.MoistureReading{
		DeviceID:  req.DeviceID,
		Moisture:  *req.Moisture,
		RawADC:    req.RawADC,
		Timestamp: req.Timestamp,
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.store.InsertReading(ctx, r); err != nil {
		log.Printf("bridge: store reading %s: %v", r.DeviceID, err)
		return err
	}
	metrics.ReadingsIngested.WithLabelValues("mqtt").Inc()

	b.engine.HandleReading(ctx, r.DeviceID, r.Moisture, time.Now())
	return nil
}

// PublishValveState implements valve.EventPublisher.
func (b *Bridge) PublishValveState(deviceID string, state model.ValveState) error {
	payload, err := valve.EncodeStateEvent(deviceID, state)
	if err != nil {
		return err
	}
	topic := strings.ReplaceAll(b.stateTopicTmpl, "{device}", deviceID)
	return b.pub.Publish(topic, 1, false, payload)
}
