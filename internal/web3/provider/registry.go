package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cryptonite/internal/config"
	"cryptonite/internal/web3"
	"cryptonite/internal/web3/solana"
)

// ClusterCustom names the cluster built from an explicit RPC URL.
const ClusterCustom = "custom"

// Registry resolves cluster names to RPC endpoints and hands out clients.
type Registry struct {
	defaultCluster string
	clusters       map[string]web3.ClusterDefinition
	pollInterval   time.Duration

	mu      sync.Mutex
	clients map[string]*solana.Client
}

var _ web3.Connector = (*Registry)(nil)

// NewRegistry merges the built-in clusters with the YAML definitions and the
// explicit RPC override, then selects the default cluster.
func NewRegistry(cfg config.LedgerConfig) (*Registry, error) {
	defs, err := web3.LoadClusterDefinitions(cfg.ClusterConfig)
	if err != nil {
		return nil, err
	}

	clusters := web3.BuiltinClusters()
	for name, def := range defs.Clusters {
		if def.Explorer == "" {
			def.Explorer = web3.DefaultExplorer
		}
		clusters[name] = def
	}

	defaultCluster := strings.TrimSpace(cfg.Cluster)
	if rpcURL := strings.TrimSpace(cfg.RPCURL); rpcURL != "" {
		clusters[ClusterCustom] = web3.ClusterDefinition{
			RPCURL:      rpcURL,
			Explorer:    web3.DefaultExplorer,
			Description: "configured RPC endpoint",
		}
		if defaultCluster == "" {
			defaultCluster = ClusterCustom
		}
	}
	if defaultCluster == "" {
		defaultCluster = web3.ClusterDevnet
	}
	if _, ok := clusters[defaultCluster]; !ok {
		return nil, fmt.Errorf("默认集群 %s 未在配置中找到", defaultCluster)
	}

	return &Registry{
		defaultCluster: defaultCluster,
		clusters:       clusters,
		pollInterval:   cfg.PollInterval(),
		clients:        make(map[string]*solana.Client),
	}, nil
}

// DefaultCluster returns the selected cluster name.
func (r *Registry) DefaultCluster() string {
	if r == nil {
		return ""
	}
	return r.defaultCluster
}

// Cluster returns the definition registered under name.
func (r *Registry) Cluster(name string) (web3.ClusterDefinition, bool) {
	if r == nil {
		return web3.ClusterDefinition{}, false
	}
	def, ok := r.clusters[name]
	return def, ok
}

// Endpoint returns the RPC URL of the default cluster.
func (r *Registry) Endpoint() string {
	def, _ := r.Cluster(r.DefaultCluster())
	return def.RPCURL
}

// Explorer returns the transaction explorer prefix of the default cluster.
func (r *Registry) Explorer() string {
	def, ok := r.Cluster(r.DefaultCluster())
	if !ok || def.Explorer == "" {
		return web3.DefaultExplorer
	}
	return def.Explorer
}

// Client returns the shared client for the default cluster.
func (r *Registry) Client() (*solana.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的集群注册表")
	}
	return r.ClientFor(r.defaultCluster)
}

// ClientFor returns the shared client for the named cluster.
func (r *Registry) ClientFor(name string) (*solana.Client, error) {
	def, ok := r.Cluster(name)
	if !ok {
		return nil, fmt.Errorf("集群 %s 未注册", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[name]; ok {
		return client, nil
	}
	client, err := solana.NewClient(solana.Config{Name: name, RPCURL: def.RPCURL, PollInterval: r.pollInterval})
	if err != nil {
		return nil, fmt.Errorf("初始化集群 %s 失败: %w", name, err)
	}
	r.clients[name] = client
	return client, nil
}

// Connect opens a dedicated ledger connection to the default cluster. The
// caller owns it and must Close it.
func (r *Registry) Connect(ctx context.Context) (web3.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, ok := r.Cluster(r.DefaultCluster())
	if !ok {
		return nil, errors.New("未初始化的集群注册表")
	}
	return solana.NewClient(solana.Config{Name: r.defaultCluster, RPCURL: def.RPCURL, PollInterval: r.pollInterval})
}

// Close releases all shared clients.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		_ = client.Close()
		delete(r.clients, name)
	}
}

// Clusters returns the registered cluster names.
func (r *Registry) Clusters() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clusters))
	for name := range r.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
