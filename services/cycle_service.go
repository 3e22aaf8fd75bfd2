package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/usach-ambiental/piloto-monitor/archive"
	"github.com/usach-ambiental/piloto-monitor/models"
	"github.com/usach-ambiental/piloto-monitor/scraper"
	"github.com/usach-ambiental/piloto-monitor/utils"
	"github.com/usach-ambiental/piloto-monitor/validator"
)

// CycleStore is the persistence surface one fetch cycle needs.
type CycleStore interface {
	LoadSensorFileStates() (map[string]models.SensorFile, error)
	SaveSensorFileState(models.SensorFile) error
	SaveFetchCycle(*models.FetchCycle) error
	UpsertHealthRecord(*models.SensorHealthRecord) error
}

// CycleService runs the full pipeline: probe -> list -> fetch -> validate ->
// persist -> recompute health. Per-file problems are contained to the file
// and recorded on the cycle; only systemic failures (storage unavailable)
// abort a cycle, and nothing here ever terminates the host process.
type CycleService struct {
	probe   *scraper.Probe
	lister  *scraper.Lister
	fetcher *scraper.Fetcher
	val     *validator.Validator
	health  *HealthService
	store   CycleStore
	loc     *time.Location
	now     func() time.Time
}

func NewCycleService(
	probe *scraper.Probe,
	lister *scraper.Lister,
	fetcher *scraper.Fetcher,
	val *validator.Validator,
	health *HealthService,
	store CycleStore,
	loc *time.Location,
) *CycleService {
	return &CycleService{
		probe:   probe,
		lister:  lister,
		fetcher: fetcher,
		val:     val,
		health:  health,
		store:   store,
		loc:     loc,
		now:     time.Now,
	}
}

// Run executes one complete fetch cycle and returns its closed record. The
// record is appended to the operation log whether the cycle succeeded or
// not.
func (s *CycleService) Run(ctx context.Context) (c *models.FetchCycle) {
	c = &models.FetchCycle{ID: ulid.Make().String(), StartedAt: s.now()}
	log.Printf("Cycle %s: starting fetch cycle", c.ID)

	defer func() {
		if r := recover(); r != nil {
			c.Failed = true
			c.RecordError(fmt.Sprintf("unhandled error during cycle: %v", r))
			log.Printf("ERROR Cycle %s: recovered from panic: %v", c.ID, r)
		}
		if c.FinishedAt == nil {
			s.closeAndSave(c)
		}
	}()

	probeRes := s.probe.Check(ctx)
	c.Reachable = probeRes.Reachable
	c.ReachabilityCause = probeRes.Cause
	c.ProbeFailureStreak = s.probe.ConsecutiveFailures()
	if !probeRes.Reachable {
		log.Printf("WARN Cycle %s: server unreachable (%s), deferring to next cycle", c.ID, probeRes.Cause)
		return c
	}

	refs, err := s.lister.ListFiles(ctx)
	if err != nil {
		// No partial fetch without a known file set.
		c.RecordError(err.Error())
		log.Printf("ERROR Cycle %s: directory listing failed, ending cycle early: %v", c.ID, err)
		return c
	}
	c.FilesDiscovered = len(refs)

	states, err := s.store.LoadSensorFileStates()
	if err != nil {
		c.Failed = true
		c.RecordError(fmt.Sprintf("failed to load prior file states: %v", err))
		return c
	}

	for _, ref := range refs {
		if ctx.Err() != nil {
			c.RecordError(fmt.Sprintf("cycle interrupted: %v", ctx.Err()))
			break
		}
		s.processFile(ctx, c, ref, states)
		if c.Failed {
			break
		}
	}

	if !c.Failed && ctx.Err() == nil {
		s.recomputeHealth(c)
	}
	return c
}

// processFile fetches, validates and records one remote file. The prior
// state map is updated in place so later decisions in the same cycle see
// this file's outcome.
func (s *CycleService) processFile(ctx context.Context, c *models.FetchCycle, ref models.RemoteFileRef, states map[string]models.SensorFile) {
	var prior *models.SensorFile
	if st, ok := states[ref.Name]; ok {
		prior = &st
	}

	now := s.now()
	sf := models.SensorFile{
		Filename:   ref.Name,
		SensorID:   ref.SensorID,
		FileDate:   ref.FileDate,
		RemoteSize: -1,
		State:      models.StatePending,
		UpdatedAt:  now,
	}
	if prior != nil {
		sf = *prior
		sf.UpdatedAt = now
	}

	out := s.fetcher.Fetch(ctx, ref, prior)
	switch out.Kind {
	case scraper.OutcomeUnchanged:
		c.FilesSkipped++
		return

	case scraper.OutcomeFailed:
		c.FilesFailed++
		c.RecordError(fmt.Sprintf("%s: %v", ref.Name, out.Err))
		if errors.Is(out.Err, archive.ErrWrite) {
			// Durability cannot be guaranteed; stop the cycle.
			c.Failed = true
			return
		}
		// A failed transfer leaves any prior good copy untouched; only a
		// file with no usable copy is marked failed.
		if prior == nil || prior.State == models.StatePending {
			sf.SetState(models.StateFailed)
			sf.LocalPath = out.LocalPath
			s.persistFileState(c, sf, states)
		}
		return

	case scraper.OutcomeNew:
		c.FilesNew++
	case scraper.OutcomeUpdated:
		c.FilesUpdated++
	}

	sf.LocalPath = out.LocalPath
	sf.SizeBytes = out.Bytes
	// The listed size, not the byte count: the next cycle's skip decision
	// compares it against what the index lists then.
	sf.RemoteSize = ref.SizeBytes
	sf.RemoteModified = ref.LastModified
	sf.LastFetchedAt = &now

	rep, err := s.val.ValidateFile(out.LocalPath)
	if err != nil {
		c.RecordError(fmt.Sprintf("%s: validation failed: %v", ref.Name, err))
		sf.SetState(models.StateFetched)
		s.persistFileState(c, sf, states)
		return
	}

	switch rep.Verdict {
	case validator.VerdictEmpty:
		sf.SetState(models.StateEmpty)
		c.RaiseAlert(models.AlertFileEmpty, ref.Name, ref.SensorID,
			fmt.Sprintf("file is empty (%d bytes); persisted and excluded from analysis", out.Bytes), now)
		log.Printf("ALERT Cycle %s: empty file %s persisted", c.ID, ref.Name)
	case validator.VerdictIncomplete:
		sf.SetState(models.StateIncomplete)
		c.RaiseAlert(models.AlertFileIncomplete, ref.Name, ref.SensorID,
			fmt.Sprintf("file has %d malformed of %d rows (format %s); valid rows remain usable",
				rep.MalformedRows, rep.DataRows, rep.Format), now)
		log.Printf("ALERT Cycle %s: incomplete file %s (%d/%d rows malformed)",
			c.ID, ref.Name, rep.MalformedRows, rep.DataRows)
	default:
		sf.SetState(models.StateFetched)
	}

	s.persistFileState(c, sf, states)
}

func (s *CycleService) persistFileState(c *models.FetchCycle, sf models.SensorFile, states map[string]models.SensorFile) {
	states[sf.Filename] = sf
	if err := s.store.SaveSensorFileState(sf); err != nil {
		// Storage for durable state is down; treat like an archive write
		// failure and stop the cycle.
		c.Failed = true
		c.RecordError(fmt.Sprintf("failed to persist state for %s: %v", sf.Filename, err))
	}
}

// recomputeHealth full-replaces today's health record for every sensor the
// archive knows about.
func (s *CycleService) recomputeHealth(c *models.FetchCycle) {
	today := utils.Midnight(s.now(), s.loc)
	recs, err := s.health.ComputeAll(today)
	if err != nil {
		c.RecordError(fmt.Sprintf("health recomputation failed: %v", err))
		return
	}
	for _, rec := range recs {
		if err := s.store.UpsertHealthRecord(rec); err != nil {
			c.RecordError(fmt.Sprintf("failed to store health record for sensor %s: %v", rec.SensorID, err))
		}
	}
	log.Printf("Cycle %s: recomputed health for %d sensor(s)", c.ID, len(recs))
}

func (s *CycleService) closeAndSave(c *models.FetchCycle) {
	c.Close(s.now())
	elapsed := c.FinishedAt.Sub(c.StartedAt)
	log.Printf("Cycle %s: finished in %.2fs (discovered=%d new=%d updated=%d skipped=%d flagged=%d failed=%d)",
		c.ID, elapsed.Seconds(), c.FilesDiscovered, c.FilesNew, c.FilesUpdated,
		c.FilesSkipped, c.FilesFlagged, c.FilesFailed)
	if err := s.store.SaveFetchCycle(c); err != nil {
		log.Printf("ERROR Cycle %s: failed to append cycle to operation log: %v", c.ID, err)
	}
}
