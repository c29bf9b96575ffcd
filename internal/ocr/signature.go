/**
 * OCR signature computation (spec §3 OCRSignature, §4.3 invalidation).
 */

package ocr

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/docprocd/docprocd/internal/store"
)

const signatureSampleBytes = 64 * 1024

// ComputeSignature derives the (file_size, mtime, sha1_first_64k) triple
// used to detect source-file changes (spec §3/§4.3).
func ComputeSignature(path string) (store.OCRSignature, error) {
	info, err := os.Stat(path)
	if err != nil {
		return store.OCRSignature{}, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return store.OCRSignature{}, fmt.Errorf("opening %s for signature: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.CopyN(h, f, signatureSampleBytes); err != nil && err != io.EOF {
		return store.OCRSignature{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	return store.OCRSignature{
		FileSize:   info.Size(),
		Mtime:      info.ModTime().Unix(),
		SHA1Prefix: hex.EncodeToString(h.Sum(nil)),
	}, nil
}
