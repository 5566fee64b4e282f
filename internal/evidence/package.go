// Package evidence builds the compliance-facing Evidence Package: a zip
// bundling a manifest, a README, one JSON file per evidence item grouped
// into per-type directories, and an integrity file listing every item's
// hash plus the package hash, so an auditor can verify the bundle wasn't
// tampered with after export.
package evidence

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/provenance"
)

// Item is one evidence document going into the bundle: a Decision's full
// record or its DecisionChain, addressed by type and id.
type Item struct {
	Type string // "decision" or "decision_chain"
	ID   string
	Body any
}

// Manifest is the bundle's top-level index, written as manifest.json.
type Manifest struct {
	PackageID   string   `json:"package_id"`
	GeneratedAt string   `json:"generated_at"`
	ItemCount   int      `json:"item_count"`
	Types       []string `json:"types"`
	PackageHash string   `json:"package_hash"`
}

// Integrity lists every item's hash alongside the package hash, the
// artifact an auditor re-derives to confirm nothing in the zip moved.
type Integrity struct {
	PackageHash string            `json:"package_hash"`
	ItemHashes  map[string]string `json:"item_hashes"` // "<type>/<id>" -> sha256 hex
}

// Package builds the zip bytes for a decision-id's worth of evidence: the
// Decision row, its DecisionChain, and any sibling Decisions requested by
// the caller (e.g. a whole profile's audit window).
func Package(packageID string, decisions []domain.Decision, chains []domain.DecisionChain, now time.Time) ([]byte, error) {
	items := make([]Item, 0, len(decisions)+len(chains))
	for _, d := range decisions {
		items = append(items, Item{Type: "decision", ID: d.ID, Body: d})
	}
	for _, c := range chains {
		items = append(items, Item{Type: "decision_chain", ID: c.ID, Body: c})
	}

	itemHashes := make(map[string]string, len(items))
	hashList := make([]string, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal evidence item %s/%s: %w", it.Type, it.ID, err)
		}
		sum := sha256.Sum256(b)
		h := hex.EncodeToString(sum[:])
		itemHashes[it.Type+"/"+it.ID] = h
		hashList = append(hashList, h)
	}
	sort.Strings(hashList)
	pkgHash := provenance.PackageHash(hashList)

	types := typeSet(items)
	manifest := Manifest{
		PackageID:   packageID,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		ItemCount:   len(items),
		Types:       types,
		PackageHash: pkgHash,
	}
	integrity := Integrity{PackageHash: pkgHash, ItemHashes: itemHashes}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeJSON(zw, "manifest.json", manifest); err != nil {
		return nil, err
	}
	if err := writeJSON(zw, "integrity.json", integrity); err != nil {
		return nil, err
	}
	if err := writeFile(zw, "README.txt", readmeText(manifest)); err != nil {
		return nil, err
	}
	for _, it := range items {
		name := fmt.Sprintf("%s/%s.json", it.Type, it.ID)
		if err := writeJSON(zw, name, it.Body); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close evidence zip: %w", err)
	}
	return buf.Bytes(), nil
}

func typeSet(items []Item) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it.Type] {
			seen[it.Type] = true
			out = append(out, it.Type)
		}
	}
	sort.Strings(out)
	return out
}

func readmeText(m Manifest) []byte {
	return []byte(fmt.Sprintf(
		"Evidence package %s\nGenerated at: %s\nItem count: %d\nTypes: %v\nPackage hash (sha256): %s\n\n"+
			"Verify: recompute sha256 over the sorted concatenation of the hex hashes\n"+
			"listed in integrity.json; it must equal package_hash above.\n",
		m.PackageID, m.GeneratedAt, m.ItemCount, m.Types, m.PackageHash,
	))
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return writeFile(zw, name, b)
}

func writeFile(zw *zip.Writer, name string, b []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s in zip: %w", name, err)
	}
	_, err = io.Copy(w, bytes.NewReader(b))
	return err
}
