// Package main implements the m5squared wheel-pair controller entry
// point: config, supervisor control loop, telemetry fanout, and the
// HTTP API, wired for a scripted demo drive against simulated wheels.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MPZ-00/m5squared/internal/api"
	"github.com/MPZ-00/m5squared/internal/audit"
	"github.com/MPZ-00/m5squared/internal/auth"
	"github.com/MPZ-00/m5squared/internal/config"
	"github.com/MPZ-00/m5squared/internal/drive"
	"github.com/MPZ-00/m5squared/internal/input/scripted"
	"github.com/MPZ-00/m5squared/internal/mapper"
	"github.com/MPZ-00/m5squared/internal/supervisor"
	"github.com/MPZ-00/m5squared/internal/telemetry"
	mqttpub "github.com/MPZ-00/m5squared/internal/telemetry/mqtt"
	"github.com/MPZ-00/m5squared/internal/transport/fake"
)

const Version = "1.0.0"

func main() {
	log.Printf("Starting m5squared controller v%s", Version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded")

	hub := telemetry.NewHub(cfg.Telemetry.EventBufferSize)

	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		log.Fatalf("Failed to initialize audit logger: %v", err)
	}
	log.Printf("Audit trail: %s", auditLogger.FilePath())

	// The supervisor publishes to the hub, and to MQTT when a broker
	// is configured.
	var sink telemetry.Sink = hub
	var mqttPublisher *mqttpub.Publisher
	if cfg.Telemetry.MQTTBroker != "" {
		mqttPublisher, err = mqttpub.Connect(cfg.Telemetry.MQTTBroker, "m5ctl", cfg.Telemetry.MQTTTopicPrefix)
		if err != nil {
			log.Fatalf("Failed to connect MQTT bridge: %v", err)
		}
		sink = telemetry.NewMultiSink(hub, mqttPublisher)
		log.Printf("MQTT bridge connected: %s", cfg.Telemetry.MQTTBroker)
	}

	input := scripted.New(scripted.ForwardDrive())
	wheels := fake.New()

	sup := supervisor.New(input, wheels, mapper.New(cfg.Mapper), cfg.Supervisor)
	sup.SetEventSink(sink)
	sup.SetAuditLogger(auditLogger)
	sup.AddStateCallback(func(oldState, newState drive.SupervisorState) {
		log.Printf("State transition: %s -> %s", oldState, newState)
	})

	var middleware *auth.Middleware
	if cfg.API.AuthSecret != "" {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Algorithm: "HS256",
			SecretKey: cfg.API.AuthSecret,
		})
		if err != nil {
			log.Fatalf("Failed to initialize token verifier: %v", err)
		}
		middleware = auth.NewMiddleware(verifier)
		log.Println("API authentication enabled")
	} else {
		log.Println("API authentication disabled (no M25_AUTH_SECRET)")
	}

	server := api.NewServer(sup, hub, auditLogger, middleware, cfg.API)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	// Auto-connect when credentials come from config or environment.
	if cfg.Credentials.IsConfigured() {
		log.Println("Credentials configured, connecting to wheels")
		sup.RequestConnect(cfg.Credentials)
	}

	log.Printf("Controller started, API on %s", cfg.API.Addr)
	log.Printf("Health endpoint: http://localhost%s/api/v1/health", cfg.API.Addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	supExited := false
	select {
	case sig := <-shutdown:
		log.Printf("Received signal %v, shutting down", sig)
	case err := <-serverErr:
		log.Printf("Server error: %v", err)
	case err := <-supDone:
		supExited = true
		if err != nil {
			log.Printf("Supervisor error: %v", err)
		}
	}

	// Stop the control loop first so the final stop frame goes out
	// before the transport is torn down.
	cancel()
	if !awaitSupervisor(supDone, supExited, 5*time.Second) {
		log.Println("Supervisor did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	}

	hub.Stop()
	if mqttPublisher != nil {
		mqttPublisher.Close()
	}
	if err := auditLogger.Close(); err != nil {
		log.Printf("Error closing audit logger: %v", err)
	}

	log.Println("Controller shutdown complete")
}

// awaitSupervisor waits for the control loop goroutine unless its exit
// is what triggered the shutdown; the done channel delivers exactly one
// value. Reports whether the loop stopped within the timeout.
func awaitSupervisor(done <-chan error, alreadyExited bool, timeout time.Duration) bool {
	if alreadyExited {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
