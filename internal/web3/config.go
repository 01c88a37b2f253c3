package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClusterDefinitions models the structure of configs/clusters.yaml.
type ClusterDefinitions struct {
	Clusters map[string]ClusterDefinition `yaml:"clusters"`
}

// ClusterDefinition describes a single cluster endpoint.
type ClusterDefinition struct {
	RPCURL      string `yaml:"rpc_url"`
	Explorer    string `yaml:"explorer"`
	Description string `yaml:"description"`
}

// Built-in cluster names.
const (
	ClusterDevnet   = "devnet"
	ClusterLocalnet = "localnet"
	ClusterMainnet  = "mainnet"
)

// DefaultExplorer is the transaction explorer prefix used when a cluster does
// not define its own.
const DefaultExplorer = "https://solscan.io/tx/"

// BuiltinClusters returns the clusters available without any configuration.
func BuiltinClusters() map[string]ClusterDefinition {
	return map[string]ClusterDefinition{
		ClusterDevnet: {
			RPCURL:      "https://api.devnet.solana.com",
			Explorer:    DefaultExplorer,
			Description: "Solana devnet",
		},
		ClusterLocalnet: {
			RPCURL:      "http://localhost:8899",
			Explorer:    DefaultExplorer,
			Description: "local test validator",
		},
		ClusterMainnet: {
			RPCURL:      "https://api.mainnet-beta.solana.com",
			Explorer:    DefaultExplorer,
			Description: "Solana mainnet-beta",
		},
	}
}

// LoadClusterDefinitions parses the YAML file containing cluster metadata.
func LoadClusterDefinitions(path string) (ClusterDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ClusterDefinitions{Clusters: map[string]ClusterDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ClusterDefinitions{}, fmt.Errorf("读取集群配置失败: %w", err)
	}

	var defs ClusterDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ClusterDefinitions{}, fmt.Errorf("解析集群配置失败: %w", err)
	}
	if defs.Clusters == nil {
		defs.Clusters = map[string]ClusterDefinition{}
	}
	for name, def := range defs.Clusters {
		if strings.TrimSpace(def.RPCURL) == "" {
			return ClusterDefinitions{}, fmt.Errorf("集群 %s 缺少 rpc_url", name)
		}
	}
	return defs, nil
}
