package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"flowfire/internal/engine"
	"flowfire/internal/handler"
	"flowfire/internal/models"
	"flowfire/internal/models/config"
)

func main() {

	const postgresURL = "host=localhost port=5432 user=postgres password=postgres dbname=flowfire sslmode=disable"
	cfg, err := config.NewEngineConfig("west-canada",
		config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: postgresURL}),
		config.WithWorkerCount(8),
		config.WithQueueDepth(128),
		config.WithOverlapPolicy(config.OverlapQueue, 1),
		config.WithTickInterval(time.Second),
		config.WithHandlerTimeout(2*time.Minute),
		config.WithAPIPort(8080),
	)
	if err != nil {
		log.Fatal(err)
	}

	registry := handler.NewRegistry()
	mustRegister(registry, "report.daily_sales", func(ctx context.Context, inv handler.Invocation) error {
		log.Printf("building daily sales report for attempt %d", inv.Attempt)
		return buildReport(ctx, inv.Payload)
	})
	mustRegister(registry, "cache.refresh", func(ctx context.Context, inv handler.Invocation) error {
		var args struct {
			Region string `json:"region"`
		}
		if err := json.Unmarshal(inv.Payload, &args); err != nil {
			return err
		}
		return refreshCache(ctx, args.Region)
	})
	mustRegister(registry, "backup.nightly", func(ctx context.Context, inv handler.Invocation) error {
		log.Printf("running nightly backup scheduled at %s", inv.ScheduledAt)
		return nil
	})

	eng, err := engine.SetUp(context.Background(), cfg, registry)
	if err != nil {
		log.Fatal(err)
	}

	seedJobs(eng)

	eng.GracefulExit()
}

func mustRegister(registry *handler.Registry, id string, fn handler.Func) {
	if err := registry.Register(id, fn); err != nil {
		log.Fatal(err)
	}
}

// seedJobs creates the initial definitions; duplicates on restart are fine,
// the unique name constraint rejects them.
func seedJobs(eng *engine.Engine) {
	ctx := context.Background()

	jobs := []models.JobDefinition{
		{
			Name:       "daily-sales-report",
			Expression: "0 2 * * *",
			HandlerID:  "report.daily_sales",
			Enabled:    true,
			Retry: models.RetryPolicy{
				MaxAttempts: 5,
				BaseDelay:   30 * time.Second,
				MaxDelay:    10 * time.Minute,
				Jitter:      true,
			},
		},
		{
			Name:       "hourly-cache-refresh",
			Expression: "0 * * * *",
			HandlerID:  "cache.refresh",
			Payload:    json.RawMessage(`{"region":"us-east-1"}`),
			Enabled:    true,
		},
		{
			Name:         "nightly-backup",
			Expression:   "0 3 * * *",
			HandlerID:    "backup.nightly",
			Enabled:      true,
			RunOnStartup: true,
		},
	}

	for _, def := range jobs {
		if _, err := eng.CreateJob(ctx, def); err != nil {
			log.Println(err.Error())
		}
	}
}

func buildReport(ctx context.Context, payload json.RawMessage) error {
	_ = payload
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Println("daily sales report done")
	return nil
}

func refreshCache(ctx context.Context, region string) error {
	log.Printf("refreshing cache in %s", region)
	return nil
}
