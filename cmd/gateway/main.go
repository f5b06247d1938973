package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IgorTelles9/gateway-privacidade/internal/cache"
	"github.com/IgorTelles9/gateway-privacidade/internal/config"
	"github.com/IgorTelles9/gateway-privacidade/internal/gateway"
	"github.com/IgorTelles9/gateway-privacidade/internal/infra"
	"github.com/IgorTelles9/gateway-privacidade/internal/mgc"
	"github.com/IgorTelles9/gateway-privacidade/internal/treatment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// The cache service is the single source of truth; refusing to start
	// without it beats running blind.
	redisClient, err := infra.NewGoRedisAdapter(cfg.RedisAddr(), "", 0)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	store := cache.New(redisClient, cfg.CacheTTL, cfg.AggregationQueueKey)
	registry := treatment.NewRegistry(store)
	consent := mgc.NewClient(cfg.MGCAPIURL)
	metrics := gateway.NewMetrics(prometheus.DefaultRegisterer)

	broker := infra.NewMQTTClient(cfg.MQTTHost, cfg.MQTTPort)

	gw := gateway.New(gateway.Options{
		Store:     store,
		Consent:   consent,
		Registry:  registry,
		Publisher: broker,
		OutTopic:  cfg.ProcessedDataTopic,
		Metrics:   metrics,
	})

	scheduler := gateway.NewScheduler(gateway.SchedulerOptions{
		Store:     store,
		Consent:   consent,
		Registry:  registry,
		Publisher: broker,
		OutTopic:  cfg.ProcessedDataTopic,
		Metrics:   metrics,
		Tick:      cfg.SchedulerTick,
	})
	scheduler.Start()

	if err := broker.Connect([]infra.Subscription{
		{Topic: cfg.NotificationsTopic, Handler: func(_ string, payload []byte) {
			gw.HandleNotification(payload)
		}},
		{Topic: cfg.DeviceDataTopic, Handler: gw.HandleData},
	}); err != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", err)
	}

	// Ops endpoints: liveness plus Prometheus metrics.
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		redisStatus := "connected"
		status := http.StatusOK
		if err := redisClient.Ping(ctx); err != nil {
			redisStatus = "error"
			status = http.StatusServiceUnavailable
		}
		mqttStatus := "connected"
		if !broker.Connected() {
			mqttStatus = "disconnected"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{
			"service": "privacy-gateway",
			"redis":   redisStatus,
			"mqtt":    mqttStatus,
		})
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Ops server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal, shutting down gracefully...")

	scheduler.Stop()
	broker.Disconnect(250)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Ops server shutdown error: %v", err)
	}
}
