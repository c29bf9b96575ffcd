/**
 * Normalized-PDF cache: a content-addressed store of <sha256>.pdf files plus
 * JSON sidecar metadata (last-access timestamp), per spec §6.
 *
 * Ownership: the Normalizer owns NormalizedPDFs (spec §3), so this cache is
 * private to this package rather than a table in the shared store — it is a
 * flat directory the spec says is "deletable at any time; will be rebuilt
 * lazily," which is a filesystem-level contract, not a database one.
 */

package normalize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type sidecar struct {
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

// Cache is the content-addressed normalized-PDF store.
type Cache struct {
	dir string
}

// NewCache opens (creating if absent) the normalized cache directory.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating normalized cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pdfPath(hash string) string {
	return filepath.Join(c.dir, hash+".pdf")
}

func (c *Cache) sidecarPath(hash string) string {
	return filepath.Join(c.dir, hash+".json")
}

// Lookup reports whether a normalized PDF exists for hash, and touches its
// last-access timestamp on a hit.
func (c *Cache) Lookup(hash string) (path string, found bool, err error) {
	p := c.pdfPath(hash)
	if _, statErr := os.Stat(p); statErr != nil {
		if os.IsNotExist(statErr) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("checking normalized cache entry %s: %w", hash, statErr)
	}
	if err := c.touch(hash); err != nil {
		return "", false, err
	}
	return p, true, nil
}

// Put writes data as the normalized PDF for hash using a tmp-file-then-rename
// sequence so concurrent distinct-hash writers never observe a partial file,
// and same-hash races resolve by last-rename-wins (spec §5).
func (c *Cache) Put(hash string, data []byte) (string, error) {
	final := c.pdfPath(hash)
	tmp := final + ".tmp-" + fmt.Sprintf("%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing temp normalized pdf: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		// Retry once per spec §7 ("atomic rename; on rename failure, retry
		// once, then fail the artifact").
		if err2 := os.WriteFile(tmp, data, 0o644); err2 != nil {
			return "", fmt.Errorf("writing temp normalized pdf (retry): %w", err2)
		}
		if err2 := os.Rename(tmp, final); err2 != nil {
			_ = os.Remove(tmp)
			return "", fmt.Errorf("renaming normalized pdf into place: %w", err2)
		}
	}

	now := time.Now().UTC()
	sc := sidecar{CreatedAt: now, LastAccess: now}
	if err := c.writeSidecar(hash, sc); err != nil {
		return "", err
	}
	return final, nil
}

func (c *Cache) touch(hash string) error {
	sc, err := c.readSidecar(hash)
	if err != nil {
		// Missing/corrupt sidecar on an existing PDF is a Cache-kind
		// inconsistency; recover by recreating it rather than failing the
		// lookup (spec §7: Cache errors "auto-recovered by recomputing").
		sc = sidecar{CreatedAt: time.Now().UTC()}
	}
	sc.LastAccess = time.Now().UTC()
	return c.writeSidecar(hash, sc)
}

func (c *Cache) readSidecar(hash string) (sidecar, error) {
	b, err := os.ReadFile(c.sidecarPath(hash))
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return sidecar{}, err
	}
	return sc, nil
}

func (c *Cache) writeSidecar(hash string, sc sidecar) error {
	b, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshalling cache sidecar: %w", err)
	}
	if err := os.WriteFile(c.sidecarPath(hash), b, 0o644); err != nil {
		return fmt.Errorf("writing cache sidecar: %w", err)
	}
	return nil
}

// GC evicts entries whose last-access timestamp is older than maxAge.
// Returns the number of entries removed. Grounded on spec §4.1/§4.7.
func (c *Cache) GC(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("reading normalized cache dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pdf" {
			continue
		}
		hash := e.Name()[:len(e.Name())-len(".pdf")]
		sc, err := c.readSidecar(hash)
		if err != nil {
			continue
		}
		if sc.LastAccess.Before(cutoff) {
			_ = os.Remove(c.pdfPath(hash))
			_ = os.Remove(c.sidecarPath(hash))
			removed++
		}
	}
	return removed, nil
}
