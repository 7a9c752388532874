package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/steelpipe/pkg/engine"
	"github.com/cuemby/steelpipe/pkg/execution"
	"github.com/cuemby/steelpipe/pkg/fanout"
	"github.com/cuemby/steelpipe/pkg/log"
	"github.com/cuemby/steelpipe/pkg/manager"
	"github.com/cuemby/steelpipe/pkg/metrics"
	"github.com/cuemby/steelpipe/pkg/opsserver"
	"github.com/cuemby/steelpipe/pkg/placement"
	"github.com/cuemby/steelpipe/pkg/poolregistry"
	"github.com/cuemby/steelpipe/pkg/quota"
	"github.com/cuemby/steelpipe/pkg/reconciler"
	"github.com/cuemby/steelpipe/pkg/resourcemonitor"
	"github.com/cuemby/steelpipe/pkg/scheduler"
	"github.com/cuemby/steelpipe/pkg/security"
	"github.com/cuemby/steelpipe/pkg/storage"
	"github.com/cuemby/steelpipe/pkg/streaming"
	"github.com/cuemby/steelpipe/pkg/types"
	"github.com/cuemby/steelpipe/pkg/wire"
	"github.com/cuemby/steelpipe/pkg/workerregistry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "orchestrator",
	Short:   "steelpipe - a pipeline execution orchestrator",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("orchestrator version %s\ncommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	clusterCmd.AddCommand(clusterInitCmd, clusterJoinCmd)
	poolCmd.AddCommand(poolCreateCmd, poolListCmd)
	jobCmd.AddCommand(jobSubmitCmd)

	rootCmd.AddCommand(serveCmd, clusterCmd, poolCmd, jobCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start one orchestrator node",
	Long: `Start one orchestrator node: raft control plane (bootstrap or
join-local), storage, the resource/worker/quota registries, the
scheduler and execution engine, the worker streaming server, and the
ops HTTP server (health/ready/metrics).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "node-1", "Unique node ID")
	serveCmd.Flags().String("raft-addr", "127.0.0.1:7946", "Address for raft communication")
	serveCmd.Flags().String("grpc-addr", "127.0.0.1:8080", "Address for the worker gRPC stream")
	serveCmd.Flags().String("ops-addr", "127.0.0.1:9090", "Address for /health, /health/ready, /metrics")
	serveCmd.Flags().String("data-dir", "./steelpipe-data", "Data directory for raft and storage state")
	serveCmd.Flags().Bool("bootstrap", true, "Bootstrap a new single-node cluster instead of joining one")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("main")

	nodeID, _ := cmd.Flags().GetString("node-id")
	raftAddr, _ := cmd.Flags().GetString("raft-addr")
	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
	opsAddr, _ := cmd.Flags().GetString("ops-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	mgr := manager.New(manager.Config{NodeID: nodeID, BindAddr: raftAddr, DataDir: dataDir}, store)
	if bootstrap {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
	} else {
		if err := mgr.JoinLocal(); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
	}
	defer mgr.Shutdown()

	clusterKey := security.DeriveKeyFromClusterID(nodeID)
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		return fmt.Errorf("set cluster encryption key: %w", err)
	}

	ca := security.NewCertAuthority(store)
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return fmt.Errorf("initialize cluster CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return fmt.Errorf("persist cluster CA: %w", err)
		}
		logger.Info().Msg("initialized new cluster CA")
	}
	tokens := security.NewWorkerTokenManager()

	pools, err := poolregistry.New(store)
	if err != nil {
		return fmt.Errorf("load pool registry: %w", err)
	}
	ledger := quota.New()
	for _, p := range pools.List() {
		ledger.RegisterPool(p.ID, p.Quotas)
	}
	workers := workerregistry.New()

	monitors := resourcemonitor.NewRegistry()
	monitors.Register("kubernetes", resourcemonitor.NewKubernetesMonitor(pools, ledger, nil))
	monitors.Register("docker", resourcemonitor.NewDockerMonitor(pools, ledger, nil))

	strategies := placement.NewRegistry()
	strategies.Register(placement.NewLeastLoaded())
	strategies.Register(placement.NewRoundRobin())
	strategies.Register(placement.NewBinPackingFirstFit())
	strategies.Register(placement.NewGreedyBestFit())

	sched := scheduler.New(pools, monitors, ledger, strategies)
	machine := execution.New(store, mgr)
	broker := fanout.NewBroker()
	handler := streaming.NewHandler(workers, machine, broker).WithTokenValidator(tokens).WithCertValidator(ca)
	eng := engine.New(sched, ledger, workers, machine, handler, broker, engine.DefaultTimeouts())
	recon := reconciler.New(store, mgr, eng)
	recon.Start()
	defer recon.Stop()

	reaper := workerregistry.NewReaper(workers, machine, 0, 0)
	reaper.Start()
	defer reaper.Stop()

	stopDispatch := make(chan struct{})
	go dispatchPendingJobs(store, eng, logger, stopDispatch)
	defer close(stopDispatch)

	raftCollector := metrics.NewRaftCollector(mgr)
	raftCollector.Start()
	defer raftCollector.Stop()
	metrics.SetVersion(Version)

	grpcServer, err := newWorkerGRPCServer(ca, nodeID, handler)
	if err != nil {
		return fmt.Errorf("build gRPC server: %w", err)
	}
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}
	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", grpcAddr).Msg("worker gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			grpcErrCh <- err
		}
	}()
	defer grpcServer.GracefulStop()

	ops := opsserver.New(mgr, func() (int, error) {
		jobs, err := store.ListJobs()
		if err != nil {
			return 0, err
		}
		return len(jobs), nil
	})
	opsErrCh := make(chan error, 1)
	go func() {
		if err := ops.Start(opsAddr); err != nil {
			opsErrCh <- err
		}
	}()
	logger.Info().Str("addr", opsAddr).Msg("ops server listening")

	worker, err := tokens.Issue("default", 24*time.Hour)
	if err == nil {
		logger.Info().Str("token", worker.Token).Str("pool_id", worker.PoolID).Msg("issued default pool worker registration token")
	}
	if bootstrapCert, err := ca.IssueWorkerCertificate(uuid.New().String(), "default", nil, nil); err == nil {
		logger.Info().Time("expires_at", bootstrapCert.Leaf.NotAfter).Msg("issued default pool worker certificate for out-of-band handoff")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-grpcErrCh:
		return fmt.Errorf("gRPC server error: %w", err)
	case err := <-opsErrCh:
		return fmt.Errorf("ops server error: %w", err)
	}

	return nil
}

// dispatchPendingJobs picks up Jobs left PENDING by `job submit` (run
// as a separate CLI invocation against the same data directory) and
// hands each to the Engine. This is the bridge between the
// offline-admin CLI commands and the running Engine, since no admin
// RPC surface is in this orchestrator's scope (see SPEC_FULL.md §6).
func dispatchPendingJobs(store storage.Store, eng *engine.Engine, logger zerolog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			jobs, err := store.ListJobs()
			if err != nil {
				logger.Error().Err(err).Msg("list jobs for dispatch")
				continue
			}
			for _, job := range jobs {
				if job.Status != types.JobPending {
					continue
				}
				if _, err := eng.Submit(job, "leastloaded"); err != nil {
					logger.Error().Err(err).Str("job_id", job.ID).Msg("submit pending job")
				}
			}
		case <-stop:
			return
		}
	}
}

func newWorkerGRPCServer(ca *security.CertAuthority, nodeID string, handler *streaming.Handler) (*grpc.Server, error) {
	cert, err := ca.IssueOrchestratorCertificate(nodeID, []string{"localhost"}, nil)
	if err != nil {
		return nil, fmt.Errorf("issue orchestrator certificate: %w", err)
	}

	roots := x509.NewCertPool()
	roots.AppendCertsFromPEM(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.GetRootCACert()}))

	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    roots,
	})
	srv := grpc.NewServer(grpc.Creds(creds))
	wire.RegisterWorkerServiceServer(srv, handler)
	return srv, nil
}

// --- cluster ---

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the orchestrator's raft control plane",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new single-node cluster and serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Flags().Set("bootstrap", "true")
		return runServe(cmd, args)
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join an existing cluster and serve",
	Long: `Starts raft locally without bootstrapping, then waits to be
admitted as a voter by the current leader via AddVoter. Getting this
node's ID/address to the leader (and, per spec §5.12, exchanging the
cluster CA and a worker registration token out of band) is left to
whatever admin channel operates the cluster, since no remote admin RPC
is in this orchestrator's scope — see SPEC_FULL.md §6.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Flags().Set("bootstrap", "false")
		return runServe(cmd, args)
	},
}

func init() {
	for _, c := range []*cobra.Command{clusterInitCmd, clusterJoinCmd} {
		c.Flags().AddFlagSet(serveCmd.Flags())
	}
}

// --- pool ---

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage resource pools",
}

var poolCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a resource pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		poolType, _ := cmd.Flags().GetString("type")
		cpuLimit, _ := cmd.Flags().GetInt64("cpu-millis")
		memLimit, _ := cmd.Flags().GetInt64("memory-bytes")
		maxWorkers, _ := cmd.Flags().GetInt("max-workers")

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		reg, err := poolregistry.New(store)
		if err != nil {
			return err
		}

		pool := &types.ResourcePool{
			ID:     args[0],
			Name:   args[0],
			Type:   poolType,
			Status: types.PoolActive,
			Quotas: types.Quotas{
				CPU:        types.ResourceLimits{Limits: cpuLimit},
				Memory:     types.ResourceLimits{Limits: memLimit},
				MaxWorkers: maxWorkers,
			},
		}
		if err := reg.Create(pool); err != nil {
			return err
		}
		fmt.Printf("pool %q created (type=%s)\n", pool.Name, pool.Type)
		return nil
	},
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resource pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		reg, err := poolregistry.New(store)
		if err != nil {
			return err
		}
		for _, p := range reg.List() {
			fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Type, p.Status)
		}
		return nil
	},
}

func init() {
	poolCreateCmd.Flags().String("data-dir", "./steelpipe-data", "Data directory shared with a running serve process")
	poolCreateCmd.Flags().String("type", "kubernetes", "Resource-monitor pool type (kubernetes, docker)")
	poolCreateCmd.Flags().Int64("cpu-millis", 4000, "Pool CPU limit, in millicores")
	poolCreateCmd.Flags().Int64("memory-bytes", 8<<30, "Pool memory limit, in bytes")
	poolCreateCmd.Flags().Int("max-workers", 10, "Maximum workers admitted to this pool")
	poolListCmd.Flags().String("data-dir", "./steelpipe-data", "Data directory shared with a running serve process")
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a Job manifest",
	Long: `Parses a YAML Job manifest (spec §2's Job fields) and records it
as PENDING in storage. A running "serve" process against the same data
directory picks PENDING jobs up on its dispatch poll and hands them to
the Engine (C8) — this command itself has no network path to a remote
engine, since no admin RPC surface is in this orchestrator's scope (see
SPEC_FULL.md §6).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if path == "" {
			return fmt.Errorf("--file is required")
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}
		var job types.Job
		if err := yaml.Unmarshal(raw, &job); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
		if !job.HasSpec() {
			return fmt.Errorf("job manifest must set templateId or spec")
		}
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		job.Status = types.JobPending
		now := time.Now()
		job.CreatedAt = now
		job.UpdatedAt = now

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		if err := store.CreateJob(&job); err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		fmt.Printf("job %q submitted (id=%s)\n", job.Name, job.ID)
		return nil
	},
}

func init() {
	jobSubmitCmd.Flags().StringP("file", "f", "", "Path to a YAML Job manifest")
	jobSubmitCmd.Flags().String("data-dir", "./steelpipe-data", "Data directory shared with a running serve process")
}
