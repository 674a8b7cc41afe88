package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/praetor-io/watchtower/pkg/configwatcher"
	"github.com/praetor-io/watchtower/pkg/monitors"
	"github.com/praetor-io/watchtower/pkg/monitors/chainlink"
)

// systemTarget is one node host scraped by a system monitor.
type systemTarget struct {
	Entity monitors.Entity
	URL    string
}

// repoTarget is one repository followed for releases.
type repoTarget struct {
	Entity monitors.Entity
	Path   string
}

// chainTarget is one chain's contract-observer configuration, assembled
// from the chain directory's chain_config.ini and nodes_config.ini.
type chainTarget struct {
	Name       string
	ParentID   string
	CatalogURL string
	EVMURLs    []string
	Nodes      []chainlink.NodeConfig
}

// targets is everything the monitors family watches, read from the
// config tree at boot. Runtime changes arrive through the config
// fan-out; the monitors family restarts to pick up new targets.
type targets struct {
	Systems   []systemTarget
	Github    []repoTarget
	Dockerhub []repoTarget
	Chains    []chainTarget
}

// loadTargets walks the config root and parses the monitoring configs.
func loadTargets(root string) (*targets, error) {
	files, err := configwatcher.Scan(root)
	if err != nil {
		return nil, err
	}
	rels := make([]string, 0, len(files))
	for rel := range files {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	out := &targets{}
	chains := map[string]*chainTarget{}

	for _, rel := range rels {
		doc, err := configwatcher.ParseFile(filepath.Join(root, rel))
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", rel, err)
		}
		switch filepath.Base(rel) {
		case "systems_config.ini":
			out.Systems = append(out.Systems, parseSystems(doc)...)
		case "repos_config.ini":
			out.Github = append(out.Github, parseRepos(doc)...)
		case "dockerhub_repos_config.ini":
			out.Dockerhub = append(out.Dockerhub, parseRepos(doc)...)
		case "chain_config.ini":
			chain := chainFor(chains, rel)
			applyChainConfig(chain, doc)
		case "nodes_config.ini":
			chain := chainFor(chains, rel)
			applyNodesConfig(chain, doc)
		}
	}

	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		chain := chains[name]
		if chain.CatalogURL == "" || len(chain.EVMURLs) == 0 || len(chain.Nodes) == 0 {
			// Incompletely configured chains never observe contracts.
			continue
		}
		out.Chains = append(out.Chains, *chain)
	}
	return out, nil
}

func parseSystems(doc configwatcher.Document) []systemTarget {
	var out []systemTarget
	for _, key := range sortedKeys(doc) {
		record := doc[key]
		if record["id"] == "" || record["exporter_url"] == "" {
			continue
		}
		out = append(out, systemTarget{
			Entity: monitors.Entity{
				ID:       record["id"],
				Name:     record["name"],
				ParentID: record["parent_id"],
			},
			URL: record["exporter_url"],
		})
	}
	return out
}

func parseRepos(doc configwatcher.Document) []repoTarget {
	var out []repoTarget
	for _, key := range sortedKeys(doc) {
		record := doc[key]
		if record["id"] == "" || record["repo_path"] == "" {
			continue
		}
		out = append(out, repoTarget{
			Entity: monitors.Entity{
				ID:       record["id"],
				Name:     record["name"],
				ParentID: record["parent_id"],
			},
			Path: record["repo_path"],
		})
	}
	return out
}

func applyChainConfig(chain *chainTarget, doc configwatcher.Document) {
	for _, record := range doc {
		if record["parent_id"] != "" {
			chain.ParentID = record["parent_id"]
		}
		if record["weiwatchers_url"] != "" {
			chain.CatalogURL = record["weiwatchers_url"]
		}
		if record["evm_nodes_urls"] != "" {
			chain.EVMURLs = splitList(record["evm_nodes_urls"])
		}
	}
}

func applyNodesConfig(chain *chainTarget, doc configwatcher.Document) {
	for _, key := range sortedKeys(doc) {
		record := doc[key]
		if record["id"] == "" || record["prometheus_urls"] == "" {
			continue
		}
		chain.Nodes = append(chain.Nodes, chainlink.NodeConfig{
			ID:             record["id"],
			Name:           record["name"],
			PrometheusURLs: splitList(record["prometheus_urls"]),
		})
	}
}

// chainFor keys chains by their directory (chains/<network>/<chain>).
func chainFor(chains map[string]*chainTarget, rel string) *chainTarget {
	parts := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")
	name := parts[len(parts)-1]
	if chain, ok := chains[name]; ok {
		return chain
	}
	chain := &chainTarget{Name: name}
	chains[name] = chain
	return chain
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func sortedKeys(doc configwatcher.Document) []string {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
