package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/usach-ambiental/piloto-monitor/models"
	"github.com/usach-ambiental/piloto-monitor/utils"
)

// ErrListingParse means the directory listing could not be retrieved or did
// not look like a file index at all. The fetch cycle ends early on it: no
// partial fetch is attempted without a known file set.
var ErrListingParse = errors.New("scraper: unparsable directory listing")

// Index pages expose a "YYYY-MM-DD HH:MM" modification column and a size
// column that may carry a K/M/G suffix.
var (
	listingTimePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}`)
	listingSizePattern = regexp.MustCompile(`^(\d+)([KMG]?)$`)
)

const listingTimeLayout = "2006-01-02 15:04"

// Lister discovers the current set of sensor files exposed by the server.
type Lister struct {
	baseURL          string
	userAgent        string
	client           *http.Client
	loc              *time.Location
	currentMonthOnly bool
	now              func() time.Time
}

func NewLister(baseURL, userAgent string, timeout time.Duration, loc *time.Location, currentMonthOnly bool) *Lister {
	return &Lister{
		baseURL:          baseURL,
		userAgent:        userAgent,
		client:           &http.Client{Timeout: timeout},
		loc:              loc,
		currentMonthOnly: currentMonthOnly,
		now:              time.Now,
	}
}

// ListFiles fetches and parses the directory index. Anchors matching the
// Piloto naming convention become RemoteFileRefs; everything else on the
// page is ignored. Entries encoding an impossible calendar date are skipped
// with a warning, not treated as errors.
func (l *Lister) ListFiles(ctx context.Context) ([]models.RemoteFileRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrListingParse, err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrListingParse, l.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status code %d", ErrListingParse, l.baseURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing HTML from %s: %v", ErrListingParse, l.baseURL, err)
	}

	base, err := url.Parse(l.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL %s: %v", ErrListingParse, l.baseURL, err)
	}

	if doc.Find("a[href]").Length() == 0 {
		return nil, fmt.Errorf("%w: no anchors found on %s", ErrListingParse, l.baseURL)
	}

	var refs []models.RemoteFileRef
	invalidDates := 0
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		name := decodedName(href)
		if !utils.IsPilotoFilename(name) {
			return
		}
		sensorID, fileDate, err := utils.ParsePilotoFilename(name)
		if err != nil {
			invalidDates++
			log.Printf("WARN Lister: skipping file with invalid date: %s", name)
			return
		}

		ref := models.RemoteFileRef{
			Name:      name,
			SensorID:  sensorID,
			FileDate:  fileDate,
			SizeBytes: -1,
		}
		ref.URL = base.ResolveReference(&url.URL{Path: href}).String()
		l.extractRowMetadata(sel, &ref)
		refs = append(refs, ref)
	})

	if l.currentMonthOnly {
		refs = l.filterCurrentMonth(refs)
	}

	log.Printf("Lister: found %d Piloto files (%d skipped for invalid dates)", len(refs), invalidDates)
	return refs, nil
}

// extractRowMetadata pulls the optional size and last-modified columns from
// the table row the anchor sits in. Index formats vary; anything that does
// not parse is simply left unknown.
func (l *Lister) extractRowMetadata(sel *goquery.Selection, ref *models.RemoteFileRef) {
	row := sel.Closest("tr")
	if row.Length() == 0 {
		return
	}
	row.Find("td").Each(func(i int, td *goquery.Selection) {
		text := strings.TrimSpace(td.Text())
		if m := listingTimePattern.FindString(text); m != "" && ref.LastModified == nil {
			if ts, err := time.ParseInLocation(listingTimeLayout, m, l.loc); err == nil {
				ref.LastModified = &ts
			}
			return
		}
		if ref.SizeBytes < 0 {
			if size, ok := parseListingSize(text); ok {
				ref.SizeBytes = size
			}
		}
	})
}

// filterCurrentMonth keeps only files for the current month in the
// configured timezone. Sensors publish one file per day; older months are
// already archived and never change.
func (l *Lister) filterCurrentMonth(refs []models.RemoteFileRef) []models.RemoteFileRef {
	now := l.now().In(l.loc)
	kept := refs[:0]
	for _, ref := range refs {
		if ref.FileDate.Month() == now.Month() && ref.FileDate.Year() == now.Year() {
			kept = append(kept, ref)
		}
	}
	return kept
}

// parseListingSize converts an index size cell ("4096", "12K") to bytes.
// Suffixed values are rounded by the server, so they are an approximate
// change signal only.
func parseListingSize(text string) (int64, bool) {
	m := listingSizePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "K":
		n *= 1024
	case "M":
		n *= 1024 * 1024
	case "G":
		n *= 1024 * 1024 * 1024
	}
	return n, true
}

func decodedName(href string) string {
	name := href
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if dec, err := url.QueryUnescape(name); err == nil {
		name = dec
	}
	return name
}
