package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mailrelay/health"
	"mailrelay/internal/audit"
	"mailrelay/internal/config"
	"mailrelay/relay"
	"mailrelay/tracking"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded settings from .env")
	}
	audit.RefreshFromEnv()

	settings := config.NewSettings(config.NewEnvStore())

	r, err := relay.Connect(settings)
	if err != nil {
		log.Fatalf("connect stores: %v", err)
	}

	healthServer, healthListener, err := health.StartHealthServer(listenAddr("MAIL_HEALTH_ADDR", ":8080"))
	if err != nil {
		log.Fatalf("health server: %v", err)
	}
	log.Printf("health server listening on %s", healthListener.Addr())

	trackingServer := startTrackingServer(r, settings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runDrainLoop(ctx, r, settings)
	go runRetentionLoop(ctx, r, settings)

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = healthServer.Shutdown(shutdownCtx)
	if trackingServer != nil {
		_ = trackingServer.Shutdown(shutdownCtx)
	}
}

func listenAddr(envKey, def string) string {
	if env := os.Getenv(envKey); env != "" {
		return env
	}
	return def
}

func startTrackingServer(r *relay.Relay, settings *config.Settings) *http.Server {
	if !settings.TrackingEnabled(config.Global) {
		return nil
	}
	addr := listenAddr("MAIL_TRACKING_ADDR", ":8081")

	mux := http.NewServeMux()
	tracking.NewHandler(r.Tracker, settings).Register(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("tracking endpoints listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("tracking server: %v", err)
		}
	}()
	return server
}

// runDrainLoop periodically drains the queue. The in-flight flag keeps a
// slow batch from overlapping with the next tick; cross-process
// single-flight is the deployment's responsibility.
func runDrainLoop(ctx context.Context, r *relay.Relay, settings *config.Settings) {
	if !settings.QueueEnabled(config.Global) {
		log.Printf("queueing disabled, drain loop idle")
		return
	}

	interval := settings.DrainInterval(config.Global)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("draining queue every %s", interval)

	var inFlight atomic.Bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !inFlight.CompareAndSwap(false, true) {
				audit.Log("previous drain still running, skipping tick")
				continue
			}
			go func() {
				defer inFlight.Store(false)
				res, err := r.Queue.Drain(config.Global)
				if err != nil {
					log.Printf("drain: %v", err)
					return
				}
				if res.Processed > 0 {
					log.Printf("drain: processed=%d sent=%d failed=%d blocked=%d deferred=%d",
						res.Processed, res.Sent, res.Failed, res.Blocked, res.Deferred)
				}
			}()
		}
	}
}

// runRetentionLoop sweeps old log rows and terminal queue entries daily.
func runRetentionLoop(ctx context.Context, r *relay.Relay, settings *config.Settings) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Logger.Cleanup(config.Global); err != nil {
				log.Printf("log cleanup: %v", err)
			} else if n > 0 {
				log.Printf("log cleanup removed %d rows", n)
			}
			if n, err := r.Queue.Cleanup(config.Global); err != nil {
				log.Printf("queue cleanup: %v", err)
			} else if n > 0 {
				log.Printf("queue cleanup removed %d entries", n)
			}
		}
	}
}
