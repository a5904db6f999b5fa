//go:build lambda

package main

import (
	"context"
	"errors"
	"fmt"
	"kickoff/cmd/kickoff/cmds"
	"kickoff/internal/backends"
	"kickoff/internal/cache"
	"kickoff/internal/clock"
	"kickoff/internal/provider"
	"kickoff/internal/syncer"
	"kickoff/internal/types"
	"kickoff/internal/usage"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// LambdaHandler holds the dependencies needed to process SQS messages
type LambdaHandler struct {
	Syncer *syncer.Syncer
}

// SyncMessage is the SQS message body. Kind is one of today, yesterday,
// tomorrow or live.
type SyncMessage struct {
	Kind string `json:"kind"`
}

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Info("The .env file not found.")
	}
	cmds.SetupLogging()

	cfg, err := cmds.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cacheBackend, err := backends.CacheBackendFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize cache backend: %v", err)
	}
	counterStore, err := backends.CounterBackendFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize counter store: %v", err)
	}

	clk := clock.Real{}
	loc := cfg.Location()
	tracker := usage.New(counterStore, clk, loc, cfg.Sync.DailyQuota)
	client := provider.NewClient(cfg.Provider, cfg.Timezone)

	handler := &LambdaHandler{
		Syncer: syncer.New(cfg.Sync, syncer.Deps{
			Store:     cache.NewStore(cacheBackend, clk),
			Provider:  provider.NewCounting(client, tracker),
			Usage:     tracker,
			Clock:     clk,
			Location:  loc,
			Leagues:   cfg.LeagueList(),
			HasAPIKey: cfg.Provider.APIKey != "",
		}),
	}

	lambda.Start(handler.HandleSQSEvent)
}

// HandleSQSEvent runs a forced sync per message. Failed messages are reported
// back so SQS redelivers only those.
func (h *LambdaHandler) HandleSQSEvent(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	log.Infof("Processing batch of %d messages", len(sqsEvent.Records))

	var batchItemFailures []events.SQSBatchItemFailure
	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			log.WithError(err).Errorf("Failed to process message %s", record.MessageId)
			batchItemFailures = append(batchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	return events.SQSEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

func (h *LambdaHandler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg SyncMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		return fmt.Errorf("parse message body: %w", err)
	}
	if msg.Kind == "" {
		msg.Kind = syncer.KindToday
	}

	res, err := h.Syncer.ForceSync(ctx, msg.Kind)
	if err != nil {
		return fmt.Errorf("force sync %s: %w", msg.Kind, err)
	}
	lg := log.WithFields(log.Fields{
		"kind":      msg.Kind,
		"processed": res.Processed,
		"failed":    res.Failed,
		"remaining": res.Remaining,
		"messageID": record.MessageId,
	})
	if res.Aborted {
		lg.Warn("Sync stopped at the daily quota guard")
		return nil
	}
	if res.Failed > 0 && res.Failed == res.Processed {
		return types.Err(types.ErrServiceUnavailable, errors.New("every job failed"), "kind %s", msg.Kind)
	}
	lg.Info("Sync message processed")
	return nil
}
