package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/growlog/irrigationd/internal/archive"
	"github.com/growlog/irrigationd/internal/automation"
	"github.com/growlog/irrigationd/internal/bridge"
	"github.com/growlog/irrigationd/internal/command"
	"github.com/growlog/irrigationd/internal/profile"
	"github.com/growlog/irrigationd/internal/server"
	"github.com/growlog/irrigationd/internal/store"
	"github.com/growlog/irrigationd/internal/valve"
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

	// Calendar-day resets follow TZ; a bad value falls back to the host zone.
	loc := time.Local
	if tz := env("TZ", ""); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			log.Printf("WARN: invalid TZ=%q, falling back to local: %v", tz, err)
		} else {
			loc = l
		}
	}

	st, err := store.Open(env("DB_PATH", "irrigation.db"))
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	defer st.Close()

	queue := command.NewQueue()
	profiles := profile.NewCache(st, envDuration("PROFILE_CACHE_TTL", time.Minute))
	dispatcher := valve.NewDispatcher(st, queue, nil)

	tracker := automation.NewTracker(loc)
	sched := automation.NewTimerScheduler()
	defer sched.Close()
	engine := automation.NewEngine(tracker, sched, dispatcher, st, profiles)

	// Optional Influx mirror for readings.
	var archiver *archive.Archiver
	if url := env("INFLUX_URL", ""); url != "" {
		archiver, err = archive.New(archive.Config{
			URL:         url,
			Token:       env("INFLUX_TOKEN", ""),
			Org:         env("INFLUX_ORG", ""),
			Bucket:      env("INFLUX_BUCKET", ""),
			Measurement: env("INFLUX_MEASUREMENT", "soil_moisture"),
		})
		if err != nil {
			log.Fatalf("archive init: %v", err)
		}
		log.Printf("archive: mirroring readings to %s", url)
	}

	// Optional MQTT bridge for broker-attached fleets.
	if host := env("MQTT_HOST", ""); host != "" {
		client, err := mqttbus.Connect(ctx, mqttbus.Config{
			Host:     host,
			Port:     envInt("MQTT_PORT", 1883),
			Username: env("MQTT_USER", ""),
			Password: env("MQTT_PASSWORD", ""),
			ClientID: fmt.Sprintf("irrigationd-%s", env("HOSTNAME", "local")),
		})
		if err != nil {
			log.Fatalf("mqtt connect: %v", err)
		}
		br := bridge.New(client, st, engine,
			env("MQTT_DATA_TOPIC", "sensor/data/#"),
			env("MQTT_STATE_TOPIC", "event/valveState/{device}"))
		dispatcher.SetEvents(br)
		go br.Run(ctx)
	}

	// Periodic automation sweep over recently active devices.
	sweeper := automation.NewSweeper(st, engine,
		envDuration("SWEEP_INTERVAL", 5*time.Minute),
		envDuration("SWEEP_WINDOW", time.Hour))
	go sweeper.Run(ctx)

	// Retention purge for history tables.
	retentionDays := envInt("RETENTION_DAYS", 30)
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -retentionDays)
				readings, actions, err := st.Purge(ctx, cutoff)
				if err != nil {
					log.Printf("purge: %v", err)
					continue
				}
				log.Printf("purge: removed %d reading(s), %d valve action(s) older than %s",
					readings, actions, cutoff.Format("2006-01-02"))
			}
		}
	}()

	var archiveReporter server.ReadingArchiver
	if archiver != nil {
		archiveReporter = archiver
	}
	srv := server.New(st, engine, dispatcher, queue, profiles, archiveReporter)

	addr := ":" + env("PORT", "5000")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("irrigationd listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}
