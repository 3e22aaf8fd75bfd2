package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usach-ambiental/piloto-monitor/archive"
	"github.com/usach-ambiental/piloto-monitor/models"
	"github.com/usach-ambiental/piloto-monitor/scraper"
	"github.com/usach-ambiental/piloto-monitor/validator"
)

// memStore is an in-memory CycleStore for pipeline tests.
type memStore struct {
	states  map[string]models.SensorFile
	cycles  []*models.FetchCycle
	health  map[string]*models.SensorHealthRecord
	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		states: make(map[string]models.SensorFile),
		health: make(map[string]*models.SensorHealthRecord),
	}
}

func (m *memStore) LoadSensorFileStates() (map[string]models.SensorFile, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]models.SensorFile, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveSensorFileState(f models.SensorFile) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.states[f.Filename] = f
	return nil
}

func (m *memStore) SaveFetchCycle(c *models.FetchCycle) error {
	m.cycles = append(m.cycles, c)
	return nil
}

func (m *memStore) UpsertHealthRecord(r *models.SensorHealthRecord) error {
	m.health[r.SensorID] = r
	return nil
}

var cycleDay = time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)

// remoteFixture is a fake sensor server: HEAD / answers the probe, GET /
// serves the directory index, GET /<name> serves file bodies. When sizes is
// set the index is rendered as a table with mtime and size columns, the way
// Apache fancy indexes look.
type remoteFixture struct {
	srv   *httptest.Server
	files map[string]string
	sizes map[string]string
	down  bool
}

func newRemoteFixture(files map[string]string) *remoteFixture {
	f := &remoteFixture{files: files}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path == "/" {
			if r.Method == http.MethodHead {
				return
			}
			if f.sizes != nil {
				fmt.Fprint(w, "<html><body><table>\n")
				for name := range f.files {
					fmt.Fprintf(w, "<tr><td><a href=%q>%s</a></td><td>2025-06-04 10:00</td><td>%s</td></tr>\n",
						name, name, f.sizes[name])
				}
				fmt.Fprint(w, "</table></body></html>\n")
				return
			}
			fmt.Fprint(w, "<html><body><pre>\n")
			for name := range f.files {
				fmt.Fprintf(w, "<a href=%q>%s</a>\n", name, name)
			}
			fmt.Fprint(w, "</pre></body></html>\n")
			return
		}
		body, ok := f.files[r.URL.Path[1:]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	return f
}

func newCycleService(t *testing.T, fix *remoteFixture, store CycleStore) (*CycleService, *archive.Archive) {
	t.Helper()
	arch, err := archive.New(t.TempDir())
	require.NoError(t, err)

	val := validator.New(time.UTC)
	probe := scraper.NewProbe(fix.srv.URL, "test-agent", time.Second)
	lister := scraper.NewLister(fix.srv.URL, "test-agent", time.Second, time.UTC, false)
	fetcher := scraper.NewFetcher("test-agent", time.Second, arch, 1, time.UTC)
	health := NewHealthService(arch, val, time.UTC)

	svc := NewCycleService(probe, lister, fetcher, val, health, store, time.UTC)
	svc.now = func() time.Time { return time.Date(2025, 6, 4, 16, 0, 0, 0, time.UTC) }
	return svc, arch
}

func TestCycleRun_EndToEnd(t *testing.T) {
	fix := newRemoteFixture(map[string]string{
		"Piloto013-040625.dat": extendedContent(cycleDay, 3),
		"Piloto019-040625.dat": "",
	})
	defer fix.srv.Close()

	store := newMemStore()
	svc, arch := newCycleService(t, fix, store)

	c := svc.Run(context.Background())

	require.False(t, c.Failed)
	assert.True(t, c.Reachable)
	assert.NotNil(t, c.FinishedAt)
	assert.Equal(t, 2, c.FilesDiscovered)
	assert.Equal(t, 2, c.FilesNew)
	assert.Zero(t, c.FilesFailed)

	// The empty file raised an alert but was still persisted.
	require.Len(t, c.Alerts, 1)
	assert.Equal(t, models.AlertFileEmpty, c.Alerts[0].Kind)
	assert.Equal(t, "Piloto019-040625.dat", c.Alerts[0].Filename)
	assert.Equal(t, 1, c.FilesFlagged)

	info, err := os.Stat(arch.PathFor("Piloto019-040625.dat", cycleDay))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	// File states recorded for both.
	require.Len(t, store.states, 2)
	assert.Equal(t, models.StateFetched, store.states["Piloto013-040625.dat"].State)
	assert.Equal(t, models.StateEmpty, store.states["Piloto019-040625.dat"].State)

	// Health recomputed from archive contents as of the cycle's day.
	require.Len(t, store.health, 2)
	assert.True(t, store.health["013"].Working)
	assert.Equal(t, models.QualityPoor, store.health["013"].Quality)
	assert.Equal(t, models.PriorityHealthy, store.health["013"].Priority)
	assert.False(t, store.health["019"].Working)
	assert.Equal(t, models.PriorityCritical, store.health["019"].Priority)

	// The closed cycle landed in the operation log.
	require.Len(t, store.cycles, 1)
	assert.Same(t, c, store.cycles[0])
}

func TestCycleRun_SecondRunSkipsUnchanged(t *testing.T) {
	fix := newRemoteFixture(map[string]string{
		"Piloto013-040625.dat": extendedContent(cycleDay, 3),
	})
	defer fix.srv.Close()

	store := newMemStore()
	svc, _ := newCycleService(t, fix, store)

	first := svc.Run(context.Background())
	require.Equal(t, 1, first.FilesNew)

	second := svc.Run(context.Background())
	assert.Zero(t, second.FilesNew)
	assert.Zero(t, second.FilesUpdated)
	assert.Equal(t, 1, second.FilesSkipped)
	require.Len(t, store.cycles, 2)
}

func TestCycleRun_RoundedIndexSizeNotRedownloaded(t *testing.T) {
	// The index lists a K-rounded size that never equals the exact byte
	// count of the file. Consecutive cycles over an unchanged remote file
	// must still skip it.
	fix := newRemoteFixture(map[string]string{
		"Piloto013-040625.dat": extendedContent(cycleDay, 120),
	})
	fix.sizes = map[string]string{"Piloto013-040625.dat": "4K"}
	defer fix.srv.Close()

	store := newMemStore()
	svc, _ := newCycleService(t, fix, store)

	first := svc.Run(context.Background())
	require.Equal(t, 1, first.FilesNew)
	assert.Equal(t, int64(4096), store.states["Piloto013-040625.dat"].RemoteSize)

	for i := 0; i < 2; i++ {
		c := svc.Run(context.Background())
		assert.Zero(t, c.FilesNew)
		assert.Zero(t, c.FilesUpdated, "unchanged listed size must not re-download")
		assert.Equal(t, 1, c.FilesSkipped)
	}
}

func TestCycleRun_UnreachableServerDefersEverything(t *testing.T) {
	fix := newRemoteFixture(nil)
	fix.down = true
	defer fix.srv.Close()

	store := newMemStore()
	svc, _ := newCycleService(t, fix, store)

	c := svc.Run(context.Background())

	assert.False(t, c.Reachable)
	assert.NotEmpty(t, c.ReachabilityCause)
	assert.Equal(t, 1, c.ProbeFailureStreak)
	assert.Zero(t, c.FilesDiscovered)
	assert.False(t, c.Failed, "an unreachable server is a deferral, not a failure")
	assert.Empty(t, store.states)
	require.Len(t, store.cycles, 1)
}

func TestCycleRun_ListingFailureEndsCycleEarly(t *testing.T) {
	fix := newRemoteFixture(nil)
	defer fix.srv.Close()

	// HEAD succeeds but the index page has no anchors at all.
	fix.files = nil
	store := newMemStore()
	svc, _ := newCycleService(t, fix, store)

	c := svc.Run(context.Background())

	assert.True(t, c.Reachable)
	assert.Zero(t, c.FilesDiscovered)
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors[0], "unparsable directory listing")
	assert.Empty(t, store.states)
}

func TestCycleRun_StateLoadFailureAbortsCycle(t *testing.T) {
	fix := newRemoteFixture(map[string]string{
		"Piloto013-040625.dat": extendedContent(cycleDay, 3),
	})
	defer fix.srv.Close()

	store := newMemStore()
	store.loadErr = errors.New("connection refused")
	svc, _ := newCycleService(t, fix, store)

	c := svc.Run(context.Background())

	assert.True(t, c.Failed)
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors[0], "failed to load prior file states")
	require.Len(t, store.cycles, 1)
}

func TestCycleRun_StateSaveFailureAbortsCycle(t *testing.T) {
	fix := newRemoteFixture(map[string]string{
		"Piloto013-040625.dat": extendedContent(cycleDay, 3),
	})
	defer fix.srv.Close()

	store := newMemStore()
	store.saveErr = errors.New("table is read only")
	svc, _ := newCycleService(t, fix, store)

	c := svc.Run(context.Background())

	assert.True(t, c.Failed)
	assert.Empty(t, store.health, "no health recomputation after a failed cycle")
	require.Len(t, store.cycles, 1)
}

func TestCycleRun_IncompleteFileFlaggedButUsable(t *testing.T) {
	content := extendedContent(cycleDay, 2) + "garbage line\n"
	fix := newRemoteFixture(map[string]string{
		"Piloto013-040625.dat": content,
	})
	defer fix.srv.Close()

	store := newMemStore()
	svc, _ := newCycleService(t, fix, store)

	c := svc.Run(context.Background())

	require.False(t, c.Failed)
	require.Len(t, c.Alerts, 1)
	assert.Equal(t, models.AlertFileIncomplete, c.Alerts[0].Kind)
	assert.Equal(t, models.StateIncomplete, store.states["Piloto013-040625.dat"].State)

	// The valid rows still feed health.
	require.Contains(t, store.health, "013")
	assert.Equal(t, 2, store.health["013"].ValidRows)
	assert.True(t, store.health["013"].Working)
}
