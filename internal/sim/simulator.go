package sim

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/growlog/irrigationd/internal/model"
	"github.com/growlog/irrigationd/internal/valve"
	"github.com/growlog/irrigationd/pkg/mqttbus"
)

// Simulator plays one device: it publishes readings on its data topic at a
// fixed interval and flips the generator's valve state when a state event for
// its device id arrives.
type Simulator struct {
	deviceID  string
	gen       *Generator
	pub       *mqttbus.Publisher
	consumer  *mqttbus.Consumer
	dataTopic string
	interval  time.Duration
}

func New(client mqtt.Client, deviceID string, gen *Generator, dataTopicTmpl, stateTopicTmpl string, interval time.Duration) *Simulator {
	s := &Simulator{
		deviceID:  deviceID,
		gen:       gen,
		pub:       mqttbus.NewPublisher(client),
		dataTopic: strings.ReplaceAll(dataTopicTmpl, "{device}", deviceID),
		interval:  interval,
	}
	stateTopic := strings.ReplaceAll(stateTopicTmpl, "{device}", deviceID)
	s.consumer = mqttbus.NewConsumer(client, stateTopic, 1, s.handleStateEvent)
	return s
}

// Run publishes readings until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	go s.consumer.Run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := s.gen.Next(s.deviceID)
			payload, err := json.Marshal(r)
			if err != nil {
				log.Printf("sim: %s marshal reading: %v", s.deviceID, err)
				continue
			}
			if err := s.pub.Publish(s.dataTopic, 1, false, payload); err != nil {
				log.Printf("sim: %s publish reading: %v", s.deviceID, err)
				continue
			}
			log.Printf("sim: %s moisture=%.1f%%", s.deviceID, r.Moisture)
		}
	}
}

func (s *Simulator) handleStateEvent(topic string, payload []byte) error {
	var evt valve.StateEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		log.Printf("sim: %s bad state event on %s: %v", s.deviceID, topic, err)
		return nil
	}
	if evt.DeviceID != s.deviceID {
		return nil
	}
	s.gen.SetValve(evt.State == model.ValveOpen)
	log.Printf("sim: %s valve -> %s", s.deviceID, evt.State)
	return nil
}
