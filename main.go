package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	config "lastagent/app/configs"
	"lastagent/app/core/executor"
	"lastagent/app/core/interaction/cli"
	"lastagent/app/core/interaction/gateway"
	httpchannel "lastagent/app/core/interaction/http"
	"lastagent/app/core/observability"
	"lastagent/app/core/orchestrator"
	"lastagent/app/core/orchestrator/approval"
	"lastagent/app/core/orchestrator/council"
	"lastagent/app/core/orchestrator/db"
	"lastagent/app/core/orchestrator/decision"
	"lastagent/app/core/orchestrator/mesh"
	"lastagent/app/core/queue"
	"lastagent/app/core/scheduler"
	"lastagent/app/pkg/logger"
)

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath(), "path to config.json")
		sets       stringList
	)
	flag.Var(&sets, "set", "config override key.path=value (repeatable)")
	flag.Parse()

	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()
	logger.Info("LastAgent starting...")

	cfgManager, err := config.NewManager(*configPath, config.CollectOverrides(sets))
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	catalog, err := config.LoadCatalog(cfg.Agent.CatalogPath)
	if err != nil {
		logger.Error("Failed to load agent catalog: %v", err)
		os.Exit(1)
	}
	if err := catalog.Validate(); err != nil {
		logger.Error("Invalid agent catalog: %v", err)
		os.Exit(1)
	}

	decisionStore, meshStore, closeStores, err := buildStores(cfg.Storage)
	if err != nil {
		logger.Error("Failed to initialize storage: %v", err)
		os.Exit(1)
	}
	defer closeStores()

	sink := observability.LogSink{}
	gate := approval.NewGate(buildPolicy(cfg.Approval, catalog))
	selector := council.NewSelector(
		buildVoters(cfg.Council),
		cfg.Council.Quorum,
		time.Duration(cfg.Council.VoterTimeoutSec)*time.Second,
		cfg.Council.ReasoningMaxRunes,
		sink,
	)
	adapter := executor.NewCLIAdapter(catalog,
		time.Duration(cfg.Executor.TimeoutSec)*time.Second,
		executor.NewRunLog(cfg.Executor.RunLogDir))

	orch := orchestrator.New(orchestrator.Options{
		Selector:     selector,
		Gate:         gate,
		Adapter:      adapter,
		Mesh:         mesh.NewCoordinator(meshStore, cfg.Mesh.MaxDepth),
		Decisions:    decision.NewLog(decisionStore),
		Catalog:      catalog,
		ApprovalMode: cfg.Approval.Mode,
		Sink:         sink,
	})

	taskQueue, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Error("Failed to initialize queue: %v", err)
		os.Exit(1)
	}
	defer taskQueue.Close()

	gw := gateway.New(orch, taskQueue, cfg.Queue.Workers)

	httpServer := httpchannel.NewServer(cfg.Server.Port, gw)
	httpServer.SetShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second)
	gw.RegisterChannel(httpServer)
	if cfg.Server.CLIEnabled {
		gw.RegisterChannel(cli.NewCLIChannel(gw))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobScheduler := scheduler.New()
	registerJobs(jobScheduler, cfg, gate, gw)
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown: %v", err)
		}
	}()

	go func() {
		if err := gw.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Gateway crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("LastAgent is ready to serve.")
	fmt.Printf("- HTTP API: http://localhost:%d/v1/tasks (POST)\n", cfg.Server.Port)
	fmt.Printf("- Health:   http://localhost:%d/health\n", cfg.Server.Port)
	if cfg.Server.CLIEnabled {
		fmt.Println("- CLI:      interactive")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. LastAgent shutting down...", sig)
	cancel()
}

// buildStores wires the decision and delegation stores for the configured
// driver. The mysql driver keeps decisions in MySQL; delegation chains stay in
// the local sqlite file alongside it.
func buildStores(cfg config.StorageConfig) (decision.Store, mesh.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return decision.NewMemoryStore(), mesh.NewMemoryStore(), func() {}, nil
	case "mysql":
		decisions, err := decision.NewMySQLStore(cfg.MySQLDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		database, err := db.NewSQLiteDB(cfg.DataDir)
		if err != nil {
			decisions.Close()
			return nil, nil, nil, err
		}
		closeAll := func() {
			database.Close()
			decisions.Close()
		}
		return decisions, mesh.NewSQLiteStore(database), closeAll, nil
	default:
		database, err := db.NewSQLiteDB(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, err
		}
		return decision.NewSQLiteStore(database), mesh.NewSQLiteStore(database), func() { database.Close() }, nil
	}
}

func buildPolicy(cfg config.ApprovalConfig, catalog config.Catalog) approval.Policy {
	policy := approval.Policy{
		Rules:     make(map[string]approval.RiskLevel),
		AgentRisk: make(map[string]approval.RiskLevel),
		TTL:       time.Duration(cfg.RequestTTLSec) * time.Second,
		OnExpiry:  cfg.OnExpiry,
	}
	for action, label := range cfg.ActionRisks {
		level, err := approval.ParseRisk(label)
		if err != nil {
			logger.Error("Ignoring action risk %s: %v", action, err)
			continue
		}
		policy.Rules[strings.ToLower(strings.TrimSpace(action))] = level
	}
	for name, def := range catalog.Agents {
		if strings.TrimSpace(def.Risk) == "" {
			continue
		}
		level, err := approval.ParseRisk(def.Risk)
		if err != nil {
			logger.Error("Ignoring agent risk %s: %v", name, err)
			continue
		}
		policy.AgentRisk[name] = level
	}
	return policy
}

func buildVoters(cfg config.CouncilConfig) []council.Voter {
	timeout := time.Duration(cfg.VoterTimeoutSec) * time.Second
	var voters []council.Voter
	for _, vc := range cfg.Voters {
		switch strings.ToLower(strings.TrimSpace(vc.Kind)) {
		case "api":
			voter, err := council.NewAPIVoter(vc.ID, vc.Model, vc.BaseURL, vc.APIKeyEnv)
			if err != nil {
				logger.Error("Skipping api voter %s: %v", vc.ID, err)
				continue
			}
			voters = append(voters, voter)
		default:
			voters = append(voters, council.NewCLIVoter(vc.ID, vc.Command, vc.Args, timeout))
		}
	}
	return voters
}

func registerJobs(s *scheduler.Scheduler, cfg config.Config, gate *approval.Gate, gw *gateway.Gateway) {
	sweepJob := scheduler.Job{
		Name:  "approval_sweep",
		Every: time.Duration(cfg.Approval.SweepIntervalSec) * time.Second,
		Fn: func(context.Context) error {
			if swept := gate.SweepExpired(time.Now()); swept > 0 {
				logger.Info("[approval] swept %d expired requests", swept)
			}
			return nil
		},
	}
	statsJob := scheduler.Job{
		Name:  "runtime_stats",
		Every: time.Minute,
		Fn: func(context.Context) error {
			health := gw.Health()
			logger.Info("[stats] processed=%d queued=%d pending_approvals=%d",
				health.ProcessedTasks, health.QueuedTasks, len(gw.Orchestrator().PendingApprovals()))
			return nil
		},
	}
	for _, job := range []scheduler.Job{sweepJob, statsJob} {
		if err := s.Register(job); err != nil {
			logger.Error("Failed to register job %s: %v", job.Name, err)
		}
	}
}
