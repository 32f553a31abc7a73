package relations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPeerMap_JSON(t *testing.T) {
	path := writeFile(t, "peers.json", `{"aapl": ["msft", "AAPL", "msft", "GOOG"]}`)

	pm, err := LoadPeerMap(path)
	require.NoError(t, err)
	// Uppercased, self-reference and duplicate dropped, order preserved.
	assert.Equal(t, []string{"MSFT", "GOOG"}, pm.Peers("AAPL"))
}

func TestLoadPeerMap_YAML(t *testing.T) {
	path := writeFile(t, "peers.yaml", "AAPL:\n  - MSFT\nMSFT:\n  - AAPL\n")

	pm, err := LoadPeerMap(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, pm.Peers("AAPL"))
	assert.Equal(t, []string{"AAPL"}, pm.Peers("MSFT"))
}

func TestLoadPeerMap_MissingOrUnsupported(t *testing.T) {
	pm, err := LoadPeerMap(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, pm)

	path := writeFile(t, "peers.toml", `AAPL = ["MSFT"]`)
	pm, err = LoadPeerMap(path)
	require.NoError(t, err)
	assert.Empty(t, pm)
}

func TestLoadPeerMap_MalformedIsFatal(t *testing.T) {
	path := writeFile(t, "peers.json", `{"AAPL": [`)
	_, err := LoadPeerMap(path)
	assert.Error(t, err)
}

func themeCfg(minSize, minConf int) config.ThemeConfig {
	return config.ThemeConfig{Enabled: true, MinClusterSize: minSize, MinPeerConfirmation: minConf, NamePrefix: "theme"}
}

func genuine(symbol, eventID string, z float64) models.CatalystSignal {
	return models.CatalystSignal{Symbol: symbol, EventID: eventID, ReturnZ: z, ATRShock: 1.5}
}

func TestConfirm_CountsActivePeers(t *testing.T) {
	pm := PeerMap{
		"AAPL": {"MSFT", "GOOG"},
		"MSFT": {"AAPL"},
		"GOOG": {"AAPL"},
	}
	e := NewEngine(pm, themeCfg(3, 2), 1.5)

	signals := []models.CatalystSignal{
		genuine("AAPL", "e1", 2.0),
		genuine("MSFT", "e2", 1.8),
		genuine("GOOG", "e3", 0.4), // below threshold, not active
	}

	out := e.Confirm(signals)

	assert.Equal(t, 1, out[0].PeerConfirmationCount, "only MSFT is an active peer of AAPL")
	assert.Contains(t, out[0].Reasons, "peer_confirmation:1")
	assert.Equal(t, 1, out[1].PeerConfirmationCount)
	assert.Equal(t, 0, out[2].PeerConfirmationCount)
	assert.NotContains(t, out[2].Reasons, "peer_confirmation:0")

	// Inputs must remain untouched.
	assert.Equal(t, 0, signals[0].PeerConfirmationCount)
	assert.Empty(t, signals[0].Reasons)
}

func TestConfirm_FalseCatalystPeerIsInactive(t *testing.T) {
	pm := PeerMap{"AAPL": {"MSFT"}, "MSFT": {"AAPL"}}
	e := NewEngine(pm, themeCfg(2, 1), 1.5)

	falseSig := genuine("MSFT", "e2", 3.0)
	falseSig.IsFalseCatalyst = true

	out := e.Confirm([]models.CatalystSignal{genuine("AAPL", "e1", 2.0), falseSig})
	assert.Equal(t, 0, out[0].PeerConfirmationCount)
}

func TestCluster_TwoSymbolTheme(t *testing.T) {
	pm := PeerMap{"AAPL": {"MSFT"}, "MSFT": {"AAPL"}}
	e := NewEngine(pm, themeCfg(2, 1), 1.5)

	signals := e.Confirm([]models.CatalystSignal{
		genuine("AAPL", "e1", 2.4),
		genuine("MSFT", "e2", 2.4),
	})
	clusters := e.Cluster(signals)

	require.Len(t, clusters, 1)
	c := clusters[0]
	assert.Equal(t, "theme-1", c.ThemeID)
	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Symbols)
	assert.Equal(t, []string{"e1", "e2"}, c.DriverSignals)
	// avg(min(1, 2.4/3)) = 0.8, density = 1.0: 0.6*0.8 + 0.4*1.0
	assert.InDelta(t, 0.88, c.ClusterStrength, 1e-9)
}

func TestCluster_OrderIndependent(t *testing.T) {
	pm := PeerMap{"AAPL": {"MSFT"}, "MSFT": {"AAPL"}, "XOM": {"CVX"}, "CVX": {"XOM"}}
	e := NewEngine(pm, themeCfg(2, 1), 1.5)

	forward := []models.CatalystSignal{
		genuine("AAPL", "e1", 2.0),
		genuine("MSFT", "e2", 2.2),
		genuine("XOM", "e3", 2.9),
		genuine("CVX", "e4", 2.7),
	}
	reversed := []models.CatalystSignal{forward[3], forward[2], forward[1], forward[0]}

	a := e.Cluster(e.Confirm(forward))
	b := e.Cluster(e.Confirm(reversed))
	assert.Equal(t, a, b, "cluster membership must not depend on signal input order")

	// Stronger (energy) component is named first.
	require.Len(t, a, 2)
	assert.Equal(t, []string{"CVX", "XOM"}, a[0].Symbols)
	assert.Equal(t, "theme-1", a[0].ThemeID)
	assert.Equal(t, "theme-2", a[1].ThemeID)
}

func TestCluster_RespectsMinSizeAndConfirmation(t *testing.T) {
	pm := PeerMap{"AAPL": {"MSFT"}, "MSFT": {"AAPL"}}
	e := NewEngine(pm, themeCfg(3, 1), 1.5)

	signals := e.Confirm([]models.CatalystSignal{
		genuine("AAPL", "e1", 2.0),
		genuine("MSFT", "e2", 2.0),
	})
	assert.Empty(t, e.Cluster(signals), "2-symbol component below min_cluster_size=3")
}

func TestCluster_Disabled(t *testing.T) {
	cfg := themeCfg(2, 1)
	cfg.Enabled = false
	e := NewEngine(PeerMap{"AAPL": {"MSFT"}, "MSFT": {"AAPL"}}, cfg, 1.5)

	signals := e.Confirm([]models.CatalystSignal{
		genuine("AAPL", "e1", 2.0),
		genuine("MSFT", "e2", 2.0),
	})
	assert.Nil(t, e.Cluster(signals))
	// Confirmation counts still filled in beforehand.
	assert.Equal(t, 1, signals[0].PeerConfirmationCount)
}
