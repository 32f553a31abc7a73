package relations

import (
	"fmt"
	"sort"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

// Engine enriches signals with peer confirmation and groups mutually
// confirming symbols into theme clusters. The activity threshold reuses the
// false-catalyst return-z cutoff on purpose: a peer only confirms if its own
// catalyst would survive confirmation.
type Engine struct {
	peers      PeerMap
	theme      config.ThemeConfig
	minReturnZ float64
}

// NewEngine creates a relations engine.
func NewEngine(peers PeerMap, theme config.ThemeConfig, minReturnZ float64) *Engine {
	return &Engine{peers: peers, theme: theme, minReturnZ: minReturnZ}
}

// bestSignal picks the representative signal per symbol: highest return_z,
// tiebroken by recency then event ID so the choice is deterministic.
func bestSignal(signals []models.CatalystSignal) map[string]models.CatalystSignal {
	best := make(map[string]models.CatalystSignal)
	for _, s := range signals {
		cur, ok := best[s.Symbol]
		if !ok || better(s, cur) {
			best[s.Symbol] = s
		}
	}
	return best
}

func better(a, b models.CatalystSignal) bool {
	if a.ReturnZ != b.ReturnZ {
		return a.ReturnZ > b.ReturnZ
	}
	if a.RecencyHours != b.RecencyHours {
		return a.RecencyHours < b.RecencyHours
	}
	return a.EventID < b.EventID
}

// activeSymbols returns the set of symbols whose best signal is genuine and
// clears the activity threshold.
func (e *Engine) activeSymbols(best map[string]models.CatalystSignal) map[string]bool {
	active := make(map[string]bool)
	for sym, s := range best {
		if !s.IsFalseCatalyst && s.ReturnZ >= e.minReturnZ {
			active[sym] = true
		}
	}
	return active
}

// Confirm fills in peer_confirmation_count on every signal, returning new
// records; the inputs are not mutated. A confirmed signal gains a
// peer_confirmation:<n> reason.
func (e *Engine) Confirm(signals []models.CatalystSignal) []models.CatalystSignal {
	active := e.activeSymbols(bestSignal(signals))

	out := make([]models.CatalystSignal, len(signals))
	for i, s := range signals {
		enriched := s
		enriched.Reasons = append([]string(nil), s.Reasons...)
		n := 0
		for _, peer := range e.peers.Peers(s.Symbol) {
			if peer != s.Symbol && active[peer] {
				n++
			}
		}
		enriched.PeerConfirmationCount = n
		if n > 0 {
			enriched.Reasons = append(enriched.Reasons, fmt.Sprintf("%s:%d", models.ReasonPeerConfirmation, n))
		}
		out[i] = enriched
	}
	return out
}

// Cluster groups active, sufficiently peer-confirmed symbols into connected
// components and scores each surviving component. Input signals must already
// be confirmed. Returns nil when clustering is disabled.
func (e *Engine) Cluster(signals []models.CatalystSignal) []models.ThemeCluster {
	if !e.theme.Enabled {
		return nil
	}

	best := bestSignal(signals)
	active := e.activeSymbols(best)

	// Candidate nodes: active symbols meeting the confirmation floor.
	var nodes []string
	for sym := range active {
		if best[sym].PeerConfirmationCount >= e.theme.MinPeerConfirmation {
			nodes = append(nodes, sym)
		}
	}
	sort.Strings(nodes)

	inGraph := make(map[string]bool, len(nodes))
	for _, s := range nodes {
		inGraph[s] = true
	}

	// Undirected adjacency restricted to candidate nodes: an edge exists if
	// either symbol lists the other as a peer.
	adj := make(map[string][]string, len(nodes))
	for i, a := range nodes {
		for _, b := range nodes[i+1:] {
			if e.peers.linked(a, b) {
				adj[a] = append(adj[a], b)
				adj[b] = append(adj[b], a)
			}
		}
	}

	components := connectedComponents(nodes, adj)

	var clusters []models.ThemeCluster
	for _, comp := range components {
		if len(comp) < e.theme.MinClusterSize {
			continue
		}
		clusters = append(clusters, e.scoreComponent(comp, adj, best))
	}

	// Name clusters strength-descending, ties by size descending then by
	// first symbol for a stable final order.
	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].ClusterStrength != clusters[j].ClusterStrength {
			return clusters[i].ClusterStrength > clusters[j].ClusterStrength
		}
		if len(clusters[i].Symbols) != len(clusters[j].Symbols) {
			return len(clusters[i].Symbols) > len(clusters[j].Symbols)
		}
		return clusters[i].Symbols[0] < clusters[j].Symbols[0]
	})
	for i := range clusters {
		name := fmt.Sprintf("%s-%d", e.theme.NamePrefix, i+1)
		clusters[i].ThemeID = name
		clusters[i].Name = name
	}
	return clusters
}

// connectedComponents finds components via breadth-first traversal over
// symbols visited in sorted order; each component comes back sorted.
func connectedComponents(nodes []string, adj map[string][]string) [][]string {
	visited := make(map[string]bool, len(nodes))
	var components [][]string

	for _, start := range nodes {
		if visited[start] {
			continue
		}
		var comp []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			neighbors := append([]string(nil), adj[cur]...)
			sort.Strings(neighbors)
			for _, nb := range neighbors {
				if !visited[nb] {
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		sort.Strings(comp)
		components = append(components, comp)
	}
	return components
}

func (e *Engine) scoreComponent(comp []string, adj map[string][]string, best map[string]models.CatalystSignal) models.ThemeCluster {
	// Average normalized return-z across members.
	sumZ := 0.0
	drivers := make(map[string]bool, len(comp))
	for _, sym := range comp {
		s := best[sym]
		z := s.ReturnZ / 3.0
		if z < 0 {
			z = 0
		}
		if z > 1 {
			z = 1
		}
		sumZ += z
		if s.EventID != "" {
			drivers[s.EventID] = true
		}
	}
	avgZ := sumZ / float64(len(comp))

	// Edge density over the component.
	edges := 0
	for _, sym := range comp {
		edges += len(adj[sym])
	}
	edges /= 2
	possible := len(comp) * (len(comp) - 1) / 2
	density := 0.0
	if possible > 0 {
		density = float64(edges) / float64(possible)
	}

	strength := 0.6*avgZ + 0.4*density
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}

	ids := make([]string, 0, len(drivers))
	for id := range drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return models.ThemeCluster{
		Symbols:         comp,
		ClusterStrength: strength,
		DriverSignals:   ids,
	}
}
