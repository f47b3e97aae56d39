// moisture-sim plays a small fleet of soil-moisture devices against a broker:
// each publishes readings on its data topic and obeys valve-state events, so
// a controller can be exercised without hardware.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/growlog/irrigationd/internal/sim"
	"github.com/growlog/irrigationd/pkg/mqttbus"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := mqttbus.Connect(ctx, mqttbus.Config{
		Host:     env("MQTT_HOST", "localhost"),
		Port:     envInt("MQTT_PORT", 1883),
		Username: env("MQTT_USER", ""),
		Password: env("MQTT_PASSWORD", ""),
		ClientID: fmt.Sprintf("moisture-sim-%d", os.Getpid()),
	})
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}

	// DEVICES is a comma-separated id list; each gets an independent soil.
	devices := strings.Split(env("DEVICES", "plant-1"), ",")
	interval := envDuration("PUBLISH_INTERVAL", 30*time.Second)
	dataTopicTmpl := env("MQTT_DATA_TOPIC", "sensor/data/{device}")
	stateTopicTmpl := env("MQTT_STATE_TOPIC", "event/valveState/{device}")

	var wg sync.WaitGroup
	for _, id := range devices {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		gen := sim.NewGenerator(25 + rand.Float64()*30)
		s := sim.New(client, id, gen, dataTopicTmpl, stateTopicTmpl, interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run(ctx)
		}()
		log.Printf("moisture-sim: started %s (interval=%s)", id, interval)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	cancel()
	wg.Wait()
}
