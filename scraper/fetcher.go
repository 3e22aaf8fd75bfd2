package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/usach-ambiental/piloto-monitor/archive"
	"github.com/usach-ambiental/piloto-monitor/models"
	"github.com/usach-ambiental/piloto-monitor/utils"
)

// ErrDownloadIncomplete marks an interrupted transfer. The temp file is
// discarded and the prior good copy, if any, stays untouched.
var ErrDownloadIncomplete = errors.New("scraper: download incomplete")

// OutcomeKind tags the result of one fetch decision.
type OutcomeKind string

const (
	OutcomeUnchanged OutcomeKind = "UNCHANGED"
	OutcomeNew       OutcomeKind = "NEW"
	OutcomeUpdated   OutcomeKind = "UPDATED"
	OutcomeFailed    OutcomeKind = "FAILED"
)

// FetchOutcome reports what one Fetch call did.
type FetchOutcome struct {
	Kind      OutcomeKind
	Bytes     int64 // size of the promoted file for New/Updated
	Attempts  int
	LocalPath string
	Err       error // set for OutcomeFailed only
}

// Pause between in-cycle retry attempts, to go easy on a server that just
// failed us.
const retryDelay = 5 * time.Second

// Fetcher downloads remote sensor files into the archive. The server does
// not support reliable range transfers, so every re-fetch is whole-file.
type Fetcher struct {
	userAgent  string
	client     *http.Client
	arch       *archive.Archive
	retries    int // in-cycle retries after the first attempt
	retryDelay time.Duration
	loc        *time.Location
	now        func() time.Time
}

func NewFetcher(userAgent string, timeout time.Duration, arch *archive.Archive, retries int, loc *time.Location) *Fetcher {
	return &Fetcher{
		userAgent:  userAgent,
		client:     &http.Client{Timeout: timeout},
		arch:       arch,
		retries:    retries,
		retryDelay: retryDelay,
		loc:        loc,
		now:        time.Now,
	}
}

// Fetch applies the incremental decision rule and downloads when needed.
// prior is the last recorded state for this file, nil on first discovery.
// The listed size is the baseline change signal; the server offers no
// stronger guarantee (no ETag), so an unchanged listed size means skip.
func (f *Fetcher) Fetch(ctx context.Context, ref models.RemoteFileRef, prior *models.SensorFile) FetchOutcome {
	kind := OutcomeNew
	if prior != nil && prior.LastFetchedAt != nil {
		if !f.shouldDownload(ref, prior) {
			log.Printf("Fetcher: %s is up to date, skipping", ref.Name)
			return FetchOutcome{Kind: OutcomeUnchanged, Bytes: prior.SizeBytes, LocalPath: prior.LocalPath}
		}
		kind = OutcomeUpdated
	}

	finalPath := f.arch.PathFor(ref.Name, ref.FileDate)
	var lastErr error
	for attempt := 1; attempt <= 1+f.retries; attempt++ {
		size, err := f.download(ctx, ref, finalPath)
		if err == nil {
			log.Printf("Fetcher: downloaded %s (%d bytes, attempt %d)", ref.Name, size, attempt)
			return FetchOutcome{Kind: kind, Bytes: size, Attempts: attempt, LocalPath: finalPath}
		}
		lastErr = err
		if errors.Is(err, archive.ErrWrite) || ctx.Err() != nil {
			// Storage trouble and cancellation are not worth a retry.
			return FetchOutcome{Kind: OutcomeFailed, Attempts: attempt, LocalPath: finalPath, Err: err}
		}
		log.Printf("WARN Fetcher: download attempt %d failed for %s: %v", attempt, ref.Name, err)
		if attempt < 1+f.retries {
			select {
			case <-ctx.Done():
				return FetchOutcome{Kind: OutcomeFailed, Attempts: attempt, LocalPath: finalPath, Err: lastErr}
			case <-time.After(f.retryDelay):
			}
		}
	}
	return FetchOutcome{Kind: OutcomeFailed, Attempts: 1 + f.retries, LocalPath: finalPath, Err: lastErr}
}

// shouldDownload decides whether a previously fetched file needs another
// whole-file transfer.
func (f *Fetcher) shouldDownload(ref models.RemoteFileRef, prior *models.SensorFile) bool {
	if _, ok := f.arch.Stat(ref.Name, ref.FileDate); !ok {
		// Recorded but missing on disk; restore it.
		return true
	}
	if ref.LastModified != nil && prior.LastFetchedAt != nil && ref.LastModified.After(*prior.LastFetchedAt) {
		return true
	}
	if ref.SizeBytes >= 0 && prior.RemoteSize >= 0 {
		// Index sizes may be K/M/G-rounded, so the listed size is only
		// comparable with the listed size recorded at the previous fetch,
		// never with the exact local byte count.
		return ref.SizeBytes != prior.RemoteSize
	}
	// No comparable size signal from the index. Files for today grow all
	// day, so re-check them; past days are settled.
	return utils.SameDay(ref.FileDate, f.now(), f.loc)
}

// download transfers the file to a temporary path and atomically promotes it
// on success. A partial write never replaces an existing good copy. Empty
// bodies are promoted too: a zero-byte marker in the archive keeps "missing"
// and "empty" distinguishable.
func (f *Fetcher) download(ctx context.Context, ref models.RemoteFileRef, finalPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("building request for %s: %w", ref.URL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: GET %s: %v", ErrDownloadIncomplete, ref.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: GET %s: status code %d", ErrDownloadIncomplete, ref.URL, resp.StatusCode)
	}

	tempPath, err := f.arch.TempPath(ref.Name, ref.FileDate)
	if err != nil {
		return 0, err
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("%w: creating temp file %s: %v", archive.ErrWrite, tempPath, err)
	}

	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		f.arch.Discard(tempPath)
		if copyErr == nil {
			copyErr = closeErr
		}
		return 0, fmt.Errorf("%w: transferring %s: %v", ErrDownloadIncomplete, ref.Name, copyErr)
	}

	if written == 0 {
		log.Printf("WARN Fetcher: downloaded file %s is empty, keeping zero-byte marker", ref.Name)
	}

	if err := f.arch.Promote(tempPath, finalPath); err != nil {
		f.arch.Discard(tempPath)
		return 0, err
	}
	return written, nil
}
