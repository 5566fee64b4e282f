package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecisionHashDeterministic(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := DecisionHash("sig-1", "p1", "EURUSD", "buy", "approved", ts)
	h2 := DecisionHash("sig-1", "p1", "EURUSD", "buy", "approved", ts)
	assert.Equal(t, h1, h2)
}

func TestDecisionHashDistinctForDistinctSignals(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := DecisionHash("sig-1", "p1", "EURUSD", "buy", "approved", ts)
	h2 := DecisionHash("sig-2", "p1", "EURUSD", "buy", "approved", ts)
	assert.NotEqual(t, h1, h2)
}

func TestChainHashOrderIndependent(t *testing.T) {
	a := ChainHash([]string{"aaa", "bbb", "ccc"})
	b := ChainHash([]string{"ccc", "aaa", "bbb"})
	assert.Equal(t, a, b)
}

func TestPackageHashMatchesChainHashShape(t *testing.T) {
	hashes := []string{"h1", "h2", "h3"}
	assert.Equal(t, ChainHash(hashes), PackageHash(hashes))
}
