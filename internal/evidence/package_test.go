package evidence

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/domain"
)

func TestPackageProducesManifestAndIntegrityFiles(t *testing.T) {
	decisions := []domain.Decision{{ID: "dec-1", ProfileID: "profile-1", ChainID: "chain-1"}}
	chains := []domain.DecisionChain{{ID: "chain-1"}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	zipBytes, err := Package("pkg-1", decisions, chains, now)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	require.NoError(t, err)

	names := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = f
	}

	require.Contains(t, names, "manifest.json")
	require.Contains(t, names, "integrity.json")
	require.Contains(t, names, "README.txt")
	require.Contains(t, names, "decision/dec-1.json")
	require.Contains(t, names, "decision_chain/chain-1.json")

	var manifest Manifest
	readJSONEntry(t, names["manifest.json"], &manifest)
	assert.Equal(t, "pkg-1", manifest.PackageID)
	assert.Equal(t, 2, manifest.ItemCount)
	assert.ElementsMatch(t, []string{"decision", "decision_chain"}, manifest.Types)
	assert.NotEmpty(t, manifest.PackageHash)

	var integrity Integrity
	readJSONEntry(t, names["integrity.json"], &integrity)
	assert.Equal(t, manifest.PackageHash, integrity.PackageHash)
	assert.Len(t, integrity.ItemHashes, 2)
}

func TestPackageEmptyInputStillProducesValidZip(t *testing.T) {
	zipBytes, err := Package("pkg-empty", nil, nil, time.Now())
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	require.NoError(t, err)
	assert.Len(t, zr.File, 3) // manifest, integrity, README only
}

func readJSONEntry(t *testing.T, f *zip.File, v any) {
	t.Helper()
	rc, err := f.Open()
	require.NoError(t, err)
	defer rc.Close()
	require.NoError(t, json.NewDecoder(rc).Decode(v))
}
