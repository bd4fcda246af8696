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

// Package options holds the control-center configuration: CLI flags with
// environment fallbacks, plus an optional YAML file for the peer and region
// lists that do not fit a flag comfortably.
package options

import (
	stderrors "errors"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/shookYu/FalconMind/pkg/utils/env"
)

// Options for running this binary.
type Options struct {
	*flag.FlagSet
	// Node identity and transport
	NodeID       string
	BindAddress  string
	Region       string
	Peers        string
	DiscoveryURL string
	ConfigFile   string
	DataDir      string
	LogLevel     string
	// Consensus timing
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	RPCTimeout         time.Duration
	RPCRetries         int
	// Fleet and scheduling
	OfflineThreshold time.Duration
	DispatchInterval time.Duration
	MinSeparation    float64
	// Broadcast
	BroadcastQueueSize int
	MaxSubscribers     int
	// Sync cadence
	IncrementalSyncInterval time.Duration
	FullSyncInterval        time.Duration
	// Autoscaling
	AutoscaleMin      int
	AutoscaleMax      int
	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration
	// Alerting
	AlertInterval time.Duration

	// File holds the parsed optional YAML config, merged by MustParse.
	File FileConfig
}

// New registers CLI flags and environment variable fallbacks for every
// recognised option.
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("controlcenter", flag.ContinueOnError)
	opts.FlagSet = f

	f.StringVar(&opts.NodeID, "node-id", env.WithDefaultString("NODE_ID", ""), "Unique identity of this control-center node. Required.")
	f.StringVar(&opts.BindAddress, "bind-address", env.WithDefaultString("BIND_ADDRESS", ":8080"), "Address the operator API binds to")
	f.StringVar(&opts.Region, "region", env.WithDefaultString("REGION", "default"), "Name of the region this node serves")
	f.StringVar(&opts.Peers, "peers", env.WithDefaultString("PEERS", ""), "Comma separated id=url peer list; empty means single-node")
	f.StringVar(&opts.DiscoveryURL, "discovery-url", env.WithDefaultString("DISCOVERY_URL", ""), "Base URL of a discovery registry; overrides the static peer list")
	f.StringVar(&opts.ConfigFile, "config-file", env.WithDefaultString("CONFIG_FILE", ""), "Optional YAML file with peer and region lists")
	f.StringVar(&opts.DataDir, "data-dir", env.WithDefaultString("DATA_DIR", ""), "Directory for the durable store; empty keeps state in memory")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Log level, debug or info")

	f.DurationVar(&opts.ElectionTimeoutMin, "election-timeout-min", env.WithDefaultDuration("ELECTION_TIMEOUT_MIN", 1500*time.Millisecond), "Lower bound of the randomized election timeout")
	f.DurationVar(&opts.ElectionTimeoutMax, "election-timeout-max", env.WithDefaultDuration("ELECTION_TIMEOUT_MAX", 3*time.Second), "Upper bound of the randomized election timeout")
	f.DurationVar(&opts.HeartbeatInterval, "heartbeat-interval", env.WithDefaultDuration("HEARTBEAT_INTERVAL", 500*time.Millisecond), "Leader heartbeat interval")
	f.DurationVar(&opts.RPCTimeout, "rpc-timeout", env.WithDefaultDuration("RPC_TIMEOUT", 2*time.Second), "Per-attempt timeout of inter-node RPC calls")
	f.IntVar(&opts.RPCRetries, "rpc-retries", env.WithDefaultInt("RPC_RETRIES", 3), "Attempts per inter-node RPC call")

	f.DurationVar(&opts.OfflineThreshold, "uav-offline-threshold", env.WithDefaultDuration("UAV_OFFLINE_THRESHOLD", 60*time.Second), "Heartbeat gap after which a UAV is marked OFFLINE")
	f.DurationVar(&opts.DispatchInterval, "dispatch-interval", env.WithDefaultDuration("DISPATCH_INTERVAL", 5*time.Second), "Cadence of the pending-mission dispatch loop")
	f.Float64Var(&opts.MinSeparation, "min-separation", env.WithDefaultFloat64("MIN_SEPARATION", 50), "Minimum horizontal separation between busy vehicles in meters")

	f.IntVar(&opts.BroadcastQueueSize, "broadcast-queue-size", env.WithDefaultInt("BROADCAST_QUEUE_SIZE", 1000), "Per-viewer outbound message queue size")
	f.IntVar(&opts.MaxSubscribers, "max-subscribers", env.WithDefaultInt("MAX_SUBSCRIBERS", 100), "Maximum concurrent viewer connections")

	f.DurationVar(&opts.IncrementalSyncInterval, "incremental-sync-interval", env.WithDefaultDuration("INCREMENTAL_SYNC_INTERVAL", 30*time.Second), "Cadence of the incremental anti-entropy sweep")
	f.DurationVar(&opts.FullSyncInterval, "full-sync-interval", env.WithDefaultDuration("FULL_SYNC_INTERVAL", 300*time.Second), "Cadence of the full anti-entropy sweep")

	f.IntVar(&opts.AutoscaleMin, "autoscale-min", env.WithDefaultInt("AUTOSCALE_MIN", 1), "Minimum active fleet size the autoscaler may request")
	f.IntVar(&opts.AutoscaleMax, "autoscale-max", env.WithDefaultInt("AUTOSCALE_MAX", 100), "Maximum active fleet size the autoscaler may request")
	f.DurationVar(&opts.ScaleUpCooldown, "scale-up-cooldown", env.WithDefaultDuration("SCALE_UP_COOLDOWN", 300*time.Second), "Stabilization window after a scale-up")
	f.DurationVar(&opts.ScaleDownCooldown, "scale-down-cooldown", env.WithDefaultDuration("SCALE_DOWN_COOLDOWN", 600*time.Second), "Stabilization window after a scale-down")

	f.DurationVar(&opts.AlertInterval, "alert-interval", env.WithDefaultDuration("ALERT_INTERVAL", 10*time.Second), "Alert rule evaluation cadence")
	return opts
}

// MustParse reads the user passed flags, environment variables, the optional
// config file, and default values. Panics on invalid configuration.
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])
	if stderrors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if o.ConfigFile != "" {
		file, err := LoadFile(o.ConfigFile)
		if err != nil {
			panic(err)
		}
		o.File = file
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

// PeerPairs returns the static peer list as id=url pairs, merging the flag
// value with the config file. The flag wins on duplicate ids.
func (o *Options) PeerPairs() []string {
	pairs := lo.FilterMap(strings.Split(o.Peers, ","), func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	})
	seen := map[string]bool{}
	for _, p := range pairs {
		if id, _, ok := strings.Cut(p, "="); ok {
			seen[id] = true
		}
	}
	for _, p := range o.File.Peers {
		if !seen[p.ID] {
			pairs = append(pairs, p.ID+"="+p.Address)
		}
	}
	return pairs
}
