package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// RefreshCaches scans dataRoot and rewrites every per-variant .mfs_cache
// the file service serves. Entries present in an existing cache but gone
// from disk are carried forward as deleted markers so downstream manifest
// generations retire them instead of forgetting them.
func RefreshCaches(dataRoot string) error {
	manifests, err := Scan(dataRoot)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", dataRoot, err)
	}

	for name, m := range manifests {
		cachePath := filepath.Join(dataRoot, name+".mfs_cache")

		if prev, err := os.Open(cachePath); err == nil {
			old, readErr := ReadCache(prev, name)
			prev.Close()
			if readErr != nil {
				slog.Warn("manifest: discarding corrupt cache", "manifest", name, "error", readErr)
			} else {
				carryDeleted(m, old)
			}
		}

		f, err := os.Create(cachePath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", cachePath, err)
		}
		if err := WriteCache(f, m); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", cachePath, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", cachePath, err)
		}
		slog.Info("manifest: wrote cache", "manifest", name, "files", len(m.Files))
	}
	return nil
}

func carryDeleted(fresh, old *Manifest) {
	current := make(map[string]bool, len(fresh.Files))
	for _, f := range fresh.Files {
		current[f.ClientPath] = true
	}
	for _, f := range old.Files {
		if !current[f.ClientPath] {
			f.Deleted = true
			fresh.Files = append(fresh.Files, f)
		}
	}
}
