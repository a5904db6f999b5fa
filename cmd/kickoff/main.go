package main

import (
	"context"
	"kickoff/cmd/kickoff/cmds"
	"kickoff/internal/api"
	"kickoff/internal/backends"
	"kickoff/internal/cache"
	"kickoff/internal/clock"
	"kickoff/internal/live"
	"kickoff/internal/ports"
	"kickoff/internal/provider"
	"kickoff/internal/pub"
	"kickoff/internal/reader"
	"kickoff/internal/scheduler"
	"kickoff/internal/stream"
	"kickoff/internal/syncer"
	"kickoff/internal/usage"
	"kickoff/internal/validate"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mileusna/crontab"
	log "github.com/sirupsen/logrus"
)

// expiryPurger is implemented by counter stores without native expiry.
type expiryPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
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
	loc := cfg.Location()
	leagues := cfg.LeagueList()
	if len(leagues) == 0 {
		log.Warn("no leagues configured, only on-demand reads will be served")
	}
	if cfg.Provider.APIKey == "" {
		log.Warn("PROVIDER_API_KEY is not set, serving cached data only")
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	cacheBackend, err := backends.CacheBackendFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize cache backend: %v", err)
	}
	counterStore, err := backends.CounterBackendFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize counter store: %v", err)
	}

	clk := clock.Real{}
	store := cache.NewStore(cacheBackend, clk)
	tracker := usage.New(counterStore, clk, loc, cfg.Sync.DailyQuota)

	client := provider.NewClient(cfg.Provider, cfg.Timezone)
	defer func() {
		_ = client.Close()
	}()
	prov := provider.NewCounting(client, tracker)

	rdr := reader.New(store, prov, validate.New(clk, cfg.Reader.RepairDelay), clk, cfg.Reader, leagues)
	sync := syncer.New(cfg.Sync, syncer.Deps{
		Store:     store,
		Provider:  prov,
		Usage:     tracker,
		Clock:     clk,
		Location:  loc,
		Leagues:   leagues,
		HasAPIKey: cfg.Provider.APIKey != "",
	})
	populator := syncer.NewPopulator(sync)
	sched := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Syncer:    sync,
		Populator: populator,
		Usage:     tracker,
		Clock:     clk,
		Location:  loc,
	})
	streams := stream.NewRegistry(clk, cfg.Live.StreamIdleTimeout)

	var publisher ports.Publisher
	if cfg.Live.SNSArn != "" {
		sns, err := pub.SNSFromEnv(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize SNS publisher: %v", err)
		}
		publisher = sns
	}
	detector := live.New(cfg.Live, live.Deps{
		Store:       store,
		Provider:    prov,
		Syncer:      sync,
		Clock:       clk,
		Location:    loc,
		Publisher:   publisher,
		Broadcaster: streams,
		Allow: func(ctx context.Context) bool {
			return tracker.Today(ctx) <= int64(sched.GetStatus(ctx).Config.DailyCallCeiling)
		},
	})

	ctab := crontab.New()
	if err := ctab.AddJob("*/10 * * * *", func() {
		n := store.Cleanup(ctx)
		log.WithFields(log.Fields{
			"deleted": n,
			"history": sync.TrimHistory(),
			"streams": streams.SweepIdle(),
		}).Debug("maintenance sweep")
		if p, ok := counterStore.(expiryPurger); ok {
			if _, err := p.PurgeExpired(ctx); err != nil {
				log.WithError(err).Warn("counter purge failed")
			}
		}
	}); err != nil {
		log.Fatalf("Failed to schedule maintenance: %v", err)
	}

	sched.Start(ctx)
	detector.Start(ctx)

	stopServer, done := api.RunServerInterruptible(cfg.API.Port, api.Deps{
		Reader:    rdr,
		Store:     store,
		Syncer:    sync,
		Scheduler: sched,
		Detector:  detector,
		Streams:   streams,
		Limiter:   counterStore,
		Clock:     clk,
		Location:  loc,
		Leagues:   leagues,
		API:       cfg.API,
	})

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-done:
		log.WithError(err).Error("server exited")
		done = nil
	}

	ctab.Shutdown()
	detector.Stop()
	sched.Stop()
	streams.CloseAll()
	if done != nil {
		stopServer <- struct{}{}
		if err := <-done; err != nil {
			log.WithError(err).Error("server shutdown")
		}
	}
	detector.Wait()
}
