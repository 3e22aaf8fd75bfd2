package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usach-ambiental/piloto-monitor/archive"
	"github.com/usach-ambiental/piloto-monitor/models"
)

var fetchDay = time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

func newTestFetcher(t *testing.T) (*Fetcher, *archive.Archive) {
	t.Helper()
	arch, err := archive.New(t.TempDir())
	require.NoError(t, err)
	f := NewFetcher("test-agent", time.Second, arch, 1, time.UTC)
	f.now = func() time.Time { return time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC) }
	f.retryDelay = time.Millisecond
	return f, arch
}

func ref(srvURL, name string, size int64) models.RemoteFileRef {
	return models.RemoteFileRef{
		Name:      name,
		SensorID:  "013",
		FileDate:  fetchDay,
		URL:       srvURL + "/" + name,
		SizeBytes: size,
	}
}

func priorState(name string, size int64) *models.SensorFile {
	fetched := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	return &models.SensorFile{
		Filename:      name,
		SensorID:      "013",
		FileDate:      fetchDay,
		SizeBytes:     size,
		RemoteSize:    size, // index listed the exact size last time
		State:         models.StateFetched,
		LastFetchedAt: &fetched,
	}
}

func TestFetch_NewFile(t *testing.T) {
	const content = "Fecha,Hora,MP1.0\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	defer srv.Close()

	f, arch := newTestFetcher(t)
	out := f.Fetch(context.Background(), ref(srv.URL, "Piloto013-030625.dat", int64(len(content))), nil)

	assert.Equal(t, OutcomeNew, out.Kind)
	assert.Equal(t, int64(len(content)), out.Bytes)
	assert.Equal(t, 1, out.Attempts)

	data, err := os.ReadFile(arch.PathFor("Piloto013-030625.dat", fetchDay))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetch_IdempotentSkip(t *testing.T) {
	const content = "12345"
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(content))
	}))
	defer srv.Close()

	f, arch := newTestFetcher(t)
	r := ref(srv.URL, "Piloto013-030625.dat", 5)

	first := f.Fetch(context.Background(), r, nil)
	require.Equal(t, OutcomeNew, first.Kind)

	prior := priorState("Piloto013-030625.dat", 5)

	// Unchanged remote size: skipped both times, local bytes identical.
	for i := 0; i < 2; i++ {
		out := f.Fetch(context.Background(), r, prior)
		assert.Equal(t, OutcomeUnchanged, out.Kind)
	}
	assert.Equal(t, 1, hits, "no additional downloads for unchanged file")

	data, err := os.ReadFile(arch.PathFor("Piloto013-030625.dat", fetchDay))
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetch_RoundedListingSizeSkipsRefetch(t *testing.T) {
	// The index lists "12K" (12288), the actual file is 12100 bytes. The
	// skip decision must compare listed size with listed size; comparing
	// against the exact local byte count would re-download forever.
	content := strings.Repeat("x", 12100)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(content))
	}))
	defer srv.Close()

	listedSize, ok := parseListingSize("12K")
	require.True(t, ok)
	require.Equal(t, int64(12288), listedSize)

	f, _ := newTestFetcher(t)
	r := ref(srv.URL, "Piloto013-030625.dat", listedSize)

	first := f.Fetch(context.Background(), r, nil)
	require.Equal(t, OutcomeNew, first.Kind)
	require.Equal(t, int64(12100), first.Bytes)

	fetched := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	prior := &models.SensorFile{
		Filename:      "Piloto013-030625.dat",
		SensorID:      "013",
		FileDate:      fetchDay,
		SizeBytes:     first.Bytes,
		RemoteSize:    listedSize,
		State:         models.StateFetched,
		LastFetchedAt: &fetched,
	}

	for i := 0; i < 2; i++ {
		out := f.Fetch(context.Background(), r, prior)
		assert.Equal(t, OutcomeUnchanged, out.Kind)
	}
	assert.Equal(t, 1, hits, "downloads for an unchanged remote file")
}

func TestFetch_UpdatedWhenSizeChanges(t *testing.T) {
	content := "12345"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	defer srv.Close()

	f, arch := newTestFetcher(t)
	r := ref(srv.URL, "Piloto013-030625.dat", 5)
	require.Equal(t, OutcomeNew, f.Fetch(context.Background(), r, nil).Kind)

	content = "1234567890"
	r.SizeBytes = 10
	out := f.Fetch(context.Background(), r, priorState("Piloto013-030625.dat", 5))

	assert.Equal(t, OutcomeUpdated, out.Kind)
	assert.Equal(t, int64(10), out.Bytes)

	// The grown file replaced the canonical path; the old copy is superseded.
	final := arch.PathFor("Piloto013-030625.dat", fetchDay)
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "1234567890", string(data))
	old, err := os.ReadFile(final + ".1")
	require.NoError(t, err)
	assert.Equal(t, "12345", string(old))
}

func TestFetch_InterruptedDownloadLeavesPriorCopyUntouched(t *testing.T) {
	const good = "good content"
	interrupt := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if interrupt {
			// Announce more bytes than are sent; the client sees an
			// unexpected EOF mid-transfer.
			w.Header().Set("Content-Length", "1000")
			w.Write([]byte("partial"))
			return
		}
		w.Write([]byte(good))
	}))
	defer srv.Close()

	f, arch := newTestFetcher(t)
	r := ref(srv.URL, "Piloto013-030625.dat", int64(len(good)))
	require.Equal(t, OutcomeNew, f.Fetch(context.Background(), r, nil).Kind)

	interrupt = true
	r.SizeBytes = 1000
	out := f.Fetch(context.Background(), r, priorState("Piloto013-030625.dat", int64(len(good))))

	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, ErrDownloadIncomplete)
	assert.Equal(t, 2, out.Attempts, "one in-cycle retry before deferring")

	// Atomic promotion: the prior good copy is untouched and unmodified.
	data, err := os.ReadFile(arch.PathFor("Piloto013-030625.dat", fetchDay))
	require.NoError(t, err)
	assert.Equal(t, good, string(data))

	// No orphaned temp file either.
	_, err = os.Stat(arch.PathFor("Piloto013-030625.dat", fetchDay) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFetch_EmptyFilePersisted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// zero-byte body
	}))
	defer srv.Close()

	f, arch := newTestFetcher(t)
	out := f.Fetch(context.Background(), ref(srv.URL, "Piloto023-030625.dat", 0), nil)

	assert.Equal(t, OutcomeNew, out.Kind)
	assert.Zero(t, out.Bytes)

	info, err := os.Stat(arch.PathFor("Piloto023-030625.dat", fetchDay))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "empty files are kept as zero-byte markers")
}

func TestFetch_RetriesOnceThenSucceeds(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	out := f.Fetch(context.Background(), ref(srv.URL, "Piloto013-030625.dat", 2), nil)

	assert.Equal(t, OutcomeNew, out.Kind)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, hits)
}

func TestFetch_WaitsBetweenRetryAttempts(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	f.retryDelay = 50 * time.Millisecond

	start := time.Now()
	out := f.Fetch(context.Background(), ref(srv.URL, "Piloto013-030625.dat", 2), nil)

	assert.Equal(t, OutcomeNew, out.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"retry should pause before hitting the server again")
}

func TestFetch_TodayFileRecheckedWithoutSizeSignal(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t)
	// f.now is 2025-06-04; a file dated that day with no size column must
	// be re-fetched, a settled past day must not.
	today := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)

	todayRef := models.RemoteFileRef{
		Name: "Piloto013-040625.dat", SensorID: "013", FileDate: today,
		URL: srv.URL + "/Piloto013-040625.dat", SizeBytes: -1,
	}
	require.Equal(t, OutcomeNew, f.Fetch(context.Background(), todayRef, nil).Kind)

	prior := priorState("Piloto013-040625.dat", 5)
	prior.FileDate = today
	out := f.Fetch(context.Background(), todayRef, prior)
	assert.Equal(t, OutcomeUpdated, out.Kind)

	pastRef := ref(srv.URL, "Piloto013-030625.dat", -1)
	require.Equal(t, OutcomeNew, f.Fetch(context.Background(), pastRef, nil).Kind)
	out = f.Fetch(context.Background(), pastRef, priorState("Piloto013-030625.dat", 5))
	assert.Equal(t, OutcomeUnchanged, out.Kind)
}
