package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicsync/internal/audit"
	"civicsync/internal/auth"
	billingapp "civicsync/internal/billing/application"
	billingmem "civicsync/internal/billing/infrastructure/memory"
	"civicsync/internal/charts"
	"civicsync/internal/config"
	"civicsync/internal/dashboard"
	"civicsync/internal/eventbus"
	"civicsync/internal/incident"
	"civicsync/internal/layoutcache"
	"civicsync/internal/observability/metrics"
	"civicsync/internal/payments"
	registryapp "civicsync/internal/registry/application"
	"civicsync/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("civicsync: config: %v", err)
	}
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamToken)
	if err != nil {
		log.Fatalf("civicsync: upstream client: %v", err)
	}
	client.SetFetchLimit(cfg.FetchRate, cfg.FetchBurst)

	bus := eventbus.NewInMemoryBus()
	store := billingmem.NewStore()
	orchestrator, err := billingapp.NewOrchestrator(client, store, bus)
	if err != nil {
		log.Fatalf("civicsync: orchestrator: %v", err)
	}
	registrySvc, err := registryapp.NewService(client, bus)
	if err != nil {
		log.Fatalf("civicsync: registry: %v", err)
	}

	cache, err := layoutcache.New(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("civicsync: layout cache: %v", err)
	}
	cache.SetMaxAge(config.Duration(cfg.CacheMaxAge, layoutcache.DefaultMaxAge))

	// Seed the first paint from the cached layout, then let live data
	// supersede it.
	if snap := cache.Load(); snap != nil {
		registrySvc.Seed(snap.Accounts)
		store.Seed(snap.BillData)
		log.Printf("civicsync: seeded %d accounts from layout cache", len(snap.Accounts))
	}

	chartAdapter, err := charts.NewAdapter(client, store)
	if err != nil {
		log.Fatalf("civicsync: charts: %v", err)
	}
	historyReader, err := charts.NewHistoryReader(client, config.Duration(cfg.HistoryTTL, 15*time.Minute))
	if err != nil {
		log.Fatalf("civicsync: history: %v", err)
	}

	paySvc, err := payments.NewService(client, orchestrator, registrySvc, cache)
	if err != nil {
		log.Fatalf("civicsync: payments: %v", err)
	}
	defer paySvc.Close()
	if !cfg.DisableReconcile {
		reconciler := payments.NewReconciler(paySvc, config.Duration(cfg.ReconcileEvery, 30*time.Second))
		go reconciler.Start(ctx)
	}

	locationHub := incident.NewHub()
	locateTimeout := config.Duration(cfg.LocateTimeout, 10*time.Second)
	disasterSession, err := incident.NewSession(incident.KindDisaster, client.AnalyzeDisaster, locationHub, locateTimeout)
	if err != nil {
		log.Fatalf("civicsync: disaster session: %v", err)
	}
	sentinelSession, err := incident.NewSession(incident.KindSentinel, client.AnalyzeViolation, locationHub, locateTimeout)
	if err != nil {
		log.Fatalf("civicsync: sentinel session: %v", err)
	}
	incidents := map[string]*incident.Session{
		incident.KindDisaster: disasterSession,
		incident.KindSentinel: sentinelSession,
	}

	broker := dashboard.NewSSEBroker()
	wireEvents(bus, broker, orchestrator, chartAdapter, historyReader, registrySvc, store)

	handler, err := dashboard.NewHandler(ctx, registrySvc, orchestrator, chartAdapter, historyReader, paySvc, incidents, locationHub, cache, audit.StdLogger{})
	if err != nil {
		log.Fatalf("civicsync: handler: %v", err)
	}

	sessionAuth := auth.NewMiddleware([]byte(cfg.SessionSecret), auth.Policy{
		ExemptPrefixes: []string{"/healthz", "/metrics", "/api/v1/stream"},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/v1/stream", dashboard.NewStreamHandler(broker))
	mux.Handle("/api/v1/", sessionAuth.Wrap(handler))

	// Initial sync runs off the serving path so the cached layout is
	// renderable immediately.
	go func() {
		accounts, err := registrySvc.LoadAll(ctx)
		if err != nil {
			log.Printf("civicsync: initial account load failed, serving cached layout: %v", err)
			return
		}
		orchestrator.Sync(ctx, accounts)
		cache.Save(registrySvc.Accounts(), store.All())
	}()

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("civicsync: listening on %s (upstream %s)", cfg.ListenAddr, cfg.UpstreamBaseURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("civicsync: server: %v", err)
	}
}

// wireEvents connects the in-process bus to the read-side consumers:
// snapshot changes fan out to SSE clients and refresh the chart
// aggregates; account removals evict every derived entry for the id.
func wireEvents(bus *eventbus.InMemoryBus, broker *dashboard.SSEBroker, orch *billingapp.Orchestrator, chartAdapter *charts.Adapter, history *charts.HistoryReader, registrySvc *registryapp.Service, store *billingmem.Store) {
	bus.Subscribe(eventbus.TypeOf[billingapp.SnapshotUpdated](), func(ctx context.Context, event any) error {
		updated, ok := event.(billingapp.SnapshotUpdated)
		if !ok {
			return nil
		}
		snap := updated.Snapshot
		broker.Notify(dashboard.StreamEvent{
			Type:      "snapshot",
			AccountID: updated.AccountID,
			Snapshot:  &snap,
			InFlight:  store.InFlightIDs(),
		})
		// Recompute charts once the last in-flight fetch settles.
		if chartSet, err := chartAdapter.Compute(ctx, registrySvc.Accounts(), store.All()); err == nil {
			broker.Notify(dashboard.StreamEvent{Type: "charts", Charts: &chartSet})
		}
		return nil
	})

	bus.Subscribe(eventbus.TypeOf[registryapp.AccountAdded](), func(_ context.Context, event any) error {
		added, ok := event.(registryapp.AccountAdded)
		if !ok {
			return nil
		}
		broker.Notify(dashboard.StreamEvent{Type: "account_added", AccountID: added.Account.ID})
		return nil
	})

	bus.Subscribe(eventbus.TypeOf[registryapp.AccountRemoved](), func(_ context.Context, event any) error {
		removed, ok := event.(registryapp.AccountRemoved)
		if !ok {
			return nil
		}
		orch.Evict(removed.Account.ID)
		history.EvictAccount(removed.Account)
		broker.Notify(dashboard.StreamEvent{Type: "account_removed", AccountID: removed.Account.ID})
		return nil
	})
}
