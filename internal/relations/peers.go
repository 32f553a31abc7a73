package relations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// PeerMap maps an uppercase symbol to its ordered list of uppercase peers.
type PeerMap map[string][]string

// LoadPeerMap reads a curated symbol-to-peers file. A missing file or an
// unsupported extension yields an empty map (deployment may simply not ship
// one); a file that exists in a supported format but fails to parse is a
// configuration mistake and errors.
func LoadPeerMap(path string) (PeerMap, error) {
	if path == "" {
		return PeerMap{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("peer map file not found, peer confirmation disabled")
			return PeerMap{}, nil
		}
		return nil, fmt.Errorf("read peer map: %w", err)
	}

	raw := map[string][]string{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("parse peer map %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("parse peer map %s: %w", path, err)
		}
	default:
		log.Warn().Str("path", path).Str("ext", ext).Msg("unsupported peer map extension, peer confirmation disabled")
		return PeerMap{}, nil
	}

	return normalizePeerMap(raw), nil
}

// normalizePeerMap uppercases symbols and silently drops self-references and
// duplicate peers while preserving peer order.
func normalizePeerMap(raw map[string][]string) PeerMap {
	out := make(PeerMap, len(raw))
	for sym, peers := range raw {
		u := strings.ToUpper(strings.TrimSpace(sym))
		if u == "" {
			continue
		}
		seen := make(map[string]bool, len(peers))
		var clean []string
		for _, p := range peers {
			up := strings.ToUpper(strings.TrimSpace(p))
			if up == "" || up == u || seen[up] {
				continue
			}
			seen[up] = true
			clean = append(clean, up)
		}
		out[u] = clean
	}
	return out
}

// Peers returns the peer list for a symbol, nil if unmapped.
func (p PeerMap) Peers(symbol string) []string {
	return p[strings.ToUpper(symbol)]
}

// linked reports whether a and b name each other in either direction.
func (p PeerMap) linked(a, b string) bool {
	for _, x := range p[a] {
		if x == b {
			return true
		}
	}
	for _, x := range p[b] {
		if x == a {
			return true
		}
	}
	return false
}
