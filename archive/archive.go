// Package archive owns durable storage of raw sensor files. The archive is
// append-only: files are written via a temporary path and an atomic rename,
// an existing copy is superseded under a distinct name rather than erased,
// and nothing is ever deleted.
package archive

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/usach-ambiental/piloto-monitor/utils"
)

// ErrWrite marks local storage problems. Unlike per-file fetch trouble, a
// write failure means durability cannot be guaranteed and the current cycle
// must stop.
var ErrWrite = errors.New("archive: write failure")

const (
	dayDirLayout = "2006-01-02"
	tempSuffix   = ".tmp"
)

// Archive is rooted at a single directory with one subdirectory per calendar
// day: <root>/2025-06-03/Piloto013-030625.dat.
type Archive struct {
	root string
}

// New opens (creating if needed) an archive rooted at dir.
func New(dir string) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty archive root", ErrWrite)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating root %s: %v", ErrWrite, dir, err)
	}
	return &Archive{root: dir}, nil
}

// Root returns the archive root directory.
func (a *Archive) Root() string { return a.root }

// PathFor returns the canonical location for a file of the given day.
func (a *Archive) PathFor(filename string, day time.Time) string {
	return filepath.Join(a.root, day.Format(dayDirLayout), filename)
}

// TempPath returns the temporary download location paired with PathFor. It
// lives in the same directory so the final promotion is a same-filesystem
// rename.
func (a *Archive) TempPath(filename string, day time.Time) (string, error) {
	dir := filepath.Join(a.root, day.Format(dayDirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating day directory %s: %v", ErrWrite, dir, err)
	}
	return filepath.Join(dir, filename+tempSuffix), nil
}

// Promote atomically moves a completed download into its canonical place.
// If a previous copy exists it is first renamed to the lowest free numeric
// suffix (file.dat -> file.dat.1, file.dat.2, ...), so a reader never sees a
// partial file and no prior data is lost.
func (a *Archive) Promote(tempPath, finalPath string) error {
	if _, err := os.Stat(tempPath); err != nil {
		return fmt.Errorf("%w: temp file %s missing: %v", ErrWrite, tempPath, err)
	}
	if _, err := os.Stat(finalPath); err == nil {
		superseded, err := a.supersede(finalPath)
		if err != nil {
			return err
		}
		log.Printf("Archive: superseded %s as %s", filepath.Base(finalPath), filepath.Base(superseded))
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("%w: promoting %s: %v", ErrWrite, finalPath, err)
	}
	return nil
}

func (a *Archive) supersede(finalPath string) (string, error) {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s.%d", finalPath, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			if err := os.Rename(finalPath, candidate); err != nil {
				return "", fmt.Errorf("%w: superseding %s: %v", ErrWrite, finalPath, err)
			}
			return candidate, nil
		}
	}
}

// Discard removes a temporary file after a failed transfer. Canonical files
// are never removed; only *.tmp paths are accepted.
func (a *Archive) Discard(tempPath string) {
	if !strings.HasSuffix(tempPath, tempSuffix) {
		log.Printf("WARN Archive: refusing to discard non-temp path %s", tempPath)
		return
	}
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		log.Printf("WARN Archive: failed to discard temp file %s: %v", tempPath, err)
	}
}

// Stat returns the size of the canonical copy for filename/day, or ok=false
// when the archive holds no copy yet.
func (a *Archive) Stat(filename string, day time.Time) (size int64, ok bool) {
	info, err := os.Stat(a.PathFor(filename, day))
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// FilesFor lists canonical file paths for one sensor covering one calendar
// day. Superseded copies and temp files are excluded; they stay on disk for
// diagnosis but take no part in analysis.
func (a *Archive) FilesFor(sensorID string, day time.Time) []string {
	name := utils.PilotoFilename(sensorID, day)
	path := a.PathFor(name, day)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return []string{path}
}

// Sensors scans the whole archive and returns the sorted set of sensor
// identifiers that have at least one file present.
func (a *Archive) Sensors() ([]string, error) {
	days, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive root %s: %w", a.root, err)
	}
	seen := make(map[string]struct{})
	for _, d := range days {
		if !d.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(a.root, d.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			id, _, err := utils.ParsePilotoFilename(e.Name())
			if err != nil {
				continue
			}
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CleanupTemp removes orphaned *.tmp files left by an interrupted process.
// Called at startup only, never while a cycle is running.
func (a *Archive) CleanupTemp() int {
	removed := 0
	_ = filepath.WalkDir(a.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), tempSuffix) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if removed > 0 {
		log.Printf("Archive: removed %d orphaned temp file(s)", removed)
	}
	return removed
}
