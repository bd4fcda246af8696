/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package operator is the composition root: it builds every component from
// the parsed options, wires the replication and event paths between them,
// and supervises the background loops.
package operator

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shookYu/FalconMind/pkg/alerting"
	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/autoscaler"
	"github.com/shookYu/FalconMind/pkg/broadcast"
	"github.com/shookYu/FalconMind/pkg/clusters"
	"github.com/shookYu/FalconMind/pkg/coordinator"
	"github.com/shookYu/FalconMind/pkg/datasync"
	"github.com/shookYu/FalconMind/pkg/discovery"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/operator/options"
	"github.com/shookYu/FalconMind/pkg/raft"
	"github.com/shookYu/FalconMind/pkg/region"
	"github.com/shookYu/FalconMind/pkg/repository"
	"github.com/shookYu/FalconMind/pkg/rpc"
	"github.com/shookYu/FalconMind/pkg/scheduler"
	"github.com/shookYu/FalconMind/pkg/scheduler/retry"
	"github.com/shookYu/FalconMind/pkg/server"
	"github.com/shookYu/FalconMind/pkg/telemetry"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
	"github.com/shookYu/FalconMind/pkg/utils/idgen"
)

type Operator struct {
	Options *options.Options
	Log     *zap.SugaredLogger

	Store       repository.Store
	Bus         *events.Bus
	Hub         *broadcast.Hub
	Inventory   *fleet.Inventory
	Scheduler   *scheduler.Scheduler
	Coordinator *coordinator.Coordinator
	Clusters    *clusters.Manager
	Telemetry   *telemetry.Service
	Registry    discovery.Registry
	Members     *discovery.MemberTable
	Raft        *raft.Node
	Sync        *datasync.Engine
	Regions     *region.Syncer
	Autoscaler  *autoscaler.Autoscaler
	Alerts      *alerting.Engine
	Server      *server.Server
}

// NewOperator builds the full component graph. Replication has two
// construction cycles (components need the sync engine, the engine needs the
// components; the engine needs consensus, consensus applies through the
// engine); both are broken with late-bound handles.
func NewOperator(o *options.Options) (*Operator, error) {
	log, err := newLogger(o.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := newStore(o)
	if err != nil {
		return nil, err
	}

	clk := clock.RealClock{}
	ids := idgen.New()
	bus := events.NewBus(500)
	hub := broadcast.NewHub(log, broadcast.Options{
		QueueSize:      o.BroadcastQueueSize,
		MaxSubscribers: o.MaxSubscribers,
	})
	bus.AddSink(hub.Sink())

	repl := &lateReplicator{}

	inventory := fleet.NewInventory(store, bus, repl, clk, log, fleet.Options{
		OfflineThreshold: o.OfflineThreshold,
	})
	retries := retry.NewManager(clk)
	sched := scheduler.New(store, inventory, bus, repl, retries, clk, ids, log, scheduler.Options{
		DispatchInterval: o.DispatchInterval,
	})
	coord := coordinator.New(store, inventory, bus, repl, clk, ids, log, coordinator.Options{
		MinSeparation: o.MinSeparation,
	})
	inventory.OnUAVOffline(coord.HandleUAVOffline)
	groups := clusters.NewManager(store, inventory, clk, ids, log)
	telem := telemetry.NewService(inventory, bus, clk, log)

	registry, err := newRegistry(o, log)
	if err != nil {
		return nil, err
	}
	client := rpc.NewClient(discovery.NewResolver(registry), log, rpc.Options{
		Timeout:  o.RPCTimeout,
		Attempts: o.RPCRetries,
	})

	consensus := &lateConsensus{}
	engine := datasync.NewEngine(o.NodeID, consensus, client, inventory, sched, coord, clk, log)

	node, err := raft.NewNode(raft.Options{
		NodeID:             o.NodeID,
		Peers:              peerIDs(o),
		ElectionTimeoutMin: o.ElectionTimeoutMin,
		ElectionTimeoutMax: o.ElectionTimeoutMax,
		HeartbeatInterval:  o.HeartbeatInterval,
	}, rpc.NewRaftTransport(client), engine, engine, store, clk, log)
	if err != nil {
		return nil, err
	}
	consensus.bind(node)

	var regions *region.Syncer
	if peers := regionPeers(o); len(peers) > 0 {
		regions = region.NewSyncer(peers, log, region.Options{})
	}
	repl.bind(&fanoutReplicator{nodeID: o.NodeID, engine: engine, regions: regions, consensus: node})

	scaler := autoscaler.New(
		autoscaler.FleetSource{Inventory: inventory, Scheduler: sched},
		autoscaler.AdvisoryActuator{Inventory: inventory, Recorder: bus},
		clk, log,
		autoscaler.Options{
			MinCapacity:       o.AutoscaleMin,
			MaxCapacity:       o.AutoscaleMax,
			ScaleUpCooldown:   o.ScaleUpCooldown,
			ScaleDownCooldown: o.ScaleDownCooldown,
		},
	)

	alerts := alerting.NewEngine(alerting.DefaultRules(), snapshotFunc(inventory, sched, node), bus, clk, log, o.AlertInterval)

	members := discovery.NewMemberTable(3 * o.HeartbeatInterval)

	op := &Operator{
		Options:     o,
		Log:         log.Named("operator"),
		Store:       store,
		Bus:         bus,
		Hub:         hub,
		Inventory:   inventory,
		Scheduler:   sched,
		Coordinator: coord,
		Clusters:    groups,
		Telemetry:   telem,
		Registry:    registry,
		Members:     members,
		Raft:        node,
		Sync:        engine,
		Regions:     regions,
		Autoscaler:  scaler,
		Alerts:      alerts,
	}
	op.Server = server.New(server.Deps{
		NodeID:      o.NodeID,
		Config:      configView(o),
		Inventory:   inventory,
		Scheduler:   sched,
		Coordinator: coord,
		Clusters:    groups,
		Telemetry:   telem,
		Hub:         hub,
		Bus:         bus,
		Alerts:      alerts,
		Autoscaler:  scaler,
		Raft:        node,
		Sync:        engine,
		Region:      engine,
		Regions:     regions,
		Members:     members,
	}, clk, log)
	return op, nil
}

// Start loads persisted state, registers with discovery and runs every
// background loop until ctx is cancelled or a loop fails.
func (op *Operator) Start(ctx context.Context) error {
	for _, load := range []func(context.Context) error{
		op.Inventory.Load,
		op.Scheduler.Load,
		op.Coordinator.Load,
		op.Clusters.Load,
	} {
		if err := load(ctx); err != nil {
			return err
		}
	}

	if op.Options.DiscoveryURL != "" {
		if err := op.Registry.Register(ctx, discovery.NodeInfo{
			ID:      op.Options.NodeID,
			Address: advertiseURL(op.Options.BindAddress),
			Region:  op.Options.Region,
		}); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { op.Raft.Run(ctx); return nil })
	g.Go(func() error { op.Inventory.RunLivenessScan(ctx); return nil })
	g.Go(func() error { op.Scheduler.RunDispatchLoop(ctx); return nil })
	g.Go(func() error { op.Coordinator.RunConflictScan(ctx); return nil })
	g.Go(func() error {
		op.Sync.RunSweeps(ctx, op.peerList, datasync.SweepOptions{
			IncrementalInterval: op.Options.IncrementalSyncInterval,
			FullInterval:        op.Options.FullSyncInterval,
		})
		return nil
	})
	if op.Regions != nil {
		g.Go(func() error { op.Regions.Run(ctx); return nil })
	}
	g.Go(func() error { op.Autoscaler.Run(ctx); return nil })
	g.Go(func() error { op.Alerts.Run(ctx); return nil })
	g.Go(func() error { return op.Server.Run(ctx, op.Options.BindAddress) })

	op.Log.Infow("control center started",
		"node", op.Options.NodeID, "bind", op.Options.BindAddress,
		"peers", len(peerIDs(op.Options)), "region", op.Options.Region)
	return g.Wait()
}

// peerList names the peers the anti-entropy sweeps pull from.
func (op *Operator) peerList() []string {
	nodes, err := op.Registry.Nodes(context.Background())
	if err != nil {
		op.Log.Warnw("listing peers failed", "error", err)
		return nil
	}
	return lo.FilterMap(nodes, func(n discovery.NodeInfo, _ int) (string, bool) {
		return n.ID, n.ID != op.Options.NodeID
	})
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func newStore(o *options.Options) (repository.Store, error) {
	if o.DataDir == "" {
		return repository.NewMemoryStore(), nil
	}
	file, err := repository.NewFileStore(filepath.Join(o.DataDir, "falconmind.db"))
	if err != nil {
		return nil, err
	}
	return repository.NewCachedStore(file, 30*time.Second), nil
}

func newRegistry(o *options.Options, log *zap.SugaredLogger) (discovery.Registry, error) {
	if o.DiscoveryURL != "" {
		return discovery.NewHTTPRegistry(o.DiscoveryURL, o.HeartbeatInterval, log), nil
	}
	return discovery.ParseStatic(o.PeerPairs())
}

func peerIDs(o *options.Options) []string {
	return lo.FilterMap(o.PeerPairs(), func(pair string, _ int) (string, bool) {
		id, _, ok := strings.Cut(pair, "=")
		return id, ok && id != o.NodeID
	})
}

func regionPeers(o *options.Options) []region.Peer {
	return lo.FilterMap(o.File.Regions, func(r options.RegionEntry, _ int) (region.Peer, bool) {
		return region.Peer{Name: r.Name, Endpoint: r.Endpoint}, !r.Disabled
	})
}

func advertiseURL(bind string) string {
	if strings.HasPrefix(bind, ":") {
		return "http://localhost" + bind
	}
	return "http://" + bind
}

// snapshotFunc exposes the numeric view the alert rules evaluate against.
func snapshotFunc(inventory *fleet.Inventory, sched *scheduler.Scheduler, node *raft.Node) alerting.SnapshotFunc {
	return func(context.Context) map[string]float64 {
		offline, lowBattery := 0, 0
		for _, u := range inventory.List() {
			if u.Status == core.UAVStatusOffline {
				offline++
			}
			if u.Capabilities.BatteryRatio() < 0.2 {
				lowBattery++
			}
		}
		hasLeader := 0.0
		if node.LeaderID() != "" {
			hasLeader = 1
		}
		return map[string]float64{
			"uavs_offline":     float64(offline),
			"uavs_low_battery": float64(lowBattery),
			"pending_missions": float64(sched.Counts()[core.MissionPending]),
			"raft_has_leader":  hasLeader,
		}
	}
}

// configView is the options snapshot served by the config endpoint.
func configView(o *options.Options) map[string]any {
	return map[string]any{
		"nodeId":                  o.NodeID,
		"bindAddress":             o.BindAddress,
		"region":                  o.Region,
		"peers":                   o.PeerPairs(),
		"discoveryUrl":            o.DiscoveryURL,
		"electionTimeoutMin":      o.ElectionTimeoutMin.String(),
		"electionTimeoutMax":      o.ElectionTimeoutMax.String(),
		"heartbeatInterval":       o.HeartbeatInterval.String(),
		"rpcTimeout":              o.RPCTimeout.String(),
		"rpcRetries":              o.RPCRetries,
		"uavOfflineThreshold":     o.OfflineThreshold.String(),
		"dispatchInterval":        o.DispatchInterval.String(),
		"minSeparation":           o.MinSeparation,
		"broadcastQueueSize":      o.BroadcastQueueSize,
		"maxSubscribers":          o.MaxSubscribers,
		"incrementalSyncInterval": o.IncrementalSyncInterval.String(),
		"fullSyncInterval":        o.FullSyncInterval.String(),
		"autoscaleMin":            o.AutoscaleMin,
		"autoscaleMax":            o.AutoscaleMax,
		"scaleUpCooldown":         o.ScaleUpCooldown.String(),
		"scaleDownCooldown":       o.ScaleDownCooldown.String(),
		"alertInterval":           o.AlertInterval.String(),
	}
}
