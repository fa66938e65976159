// Package caldav implements the remote side of the sync engine against a
// CalDAV task collection.
//
// Discovery (current-user-principal → calendar-home-set → calendars) and
// the VTODO calendar-query REPORT go through emersion/go-webdav. Fetching
// and writing individual records bypasses the library on purpose: the
// engine patches raw iCalendar text, so the bytes on the wire must be
// exactly the bytes the server stores, with optimistic-concurrency
// headers (If-Match / If-None-Match) attached by hand.
//
// Every error returned by the client carries its retry classification.
// The client is not safe for concurrent use; it is driven by the single
// sync-cycle goroutine.
package caldav

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/taskdav/taskdav/internal/ics"
	"github.com/taskdav/taskdav/internal/retry"
	"github.com/taskdav/taskdav/internal/sync"
	"github.com/taskdav/taskdav/internal/task"
)

// Config holds the connection settings for one CalDAV collection.
type Config struct {
	// Endpoint is the server URL discovery starts from.
	Endpoint string

	Username string
	Password string

	// Calendar is the display name of the collection to sync. Empty
	// picks the first collection that accepts VTODOs.
	Calendar string

	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration

	// Logger defaults to stderr when nil.
	Logger *log.Logger
}

// Client talks to one CalDAV collection. It implements the engine's
// RemoteClient interface.
type Client struct {
	http   webdav.HTTPClient
	dav    *caldav.Client
	base   *url.URL
	name   string
	logger *log.Logger
	now    func() time.Time

	// calendarPath is the resolved collection path, "" until discovery
	// has run once.
	calendarPath string

	// paths maps uid → resource path, rebuilt on every FetchAll.
	paths map[string]string
}

// New creates a Client from cfg. No network traffic happens until the
// first call; discovery runs lazily and its result is kept for the
// lifetime of the client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("server endpoint is required")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server endpoint %q: %w", cfg.Endpoint, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server endpoint %q must be http or https", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[caldav] ", log.LstdFlags)
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	var doer webdav.HTTPClient = hc
	if cfg.Username != "" {
		doer = webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	}
	dav, err := caldav.NewClient(doer, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &Client{
		http:   doer,
		dav:    dav,
		base:   base,
		name:   cfg.Calendar,
		logger: cfg.Logger,
		now:    time.Now,
		paths:  make(map[string]string),
	}, nil
}

// Ping verifies the collection is reachable. On first use it runs the
// full discovery; afterwards it issues a cheap OPTIONS on the collection.
// Every failure is classified Connectivity: this call is the cycle gate,
// and an unreachable server aborts the cycle whatever the transport said.
func (c *Client) Ping(ctx context.Context) error {
	if c.calendarPath == "" {
		if _, err := c.locate(ctx); err != nil {
			return retry.Connectivity(fmt.Errorf("remote collection unreachable: %w", err))
		}
		return nil
	}

	req, err := c.newRequest(ctx, http.MethodOptions, c.calendarPath, "")
	if err != nil {
		return retry.Connectivity(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return retry.Connectivity(fmt.Errorf("remote collection unreachable: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return retry.Connectivity(fmt.Errorf("remote collection unreachable: server returned %s", resp.Status))
	}
	return nil
}

// locate resolves the configured calendar's collection path, running
// discovery once and caching the result.
func (c *Client) locate(ctx context.Context) (string, error) {
	if c.calendarPath != "" {
		return c.calendarPath, nil
	}

	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", c.wrapLib(ctx, "failed to discover principal", err)
	}
	homeSet, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", c.wrapLib(ctx, "failed to discover calendar home", err)
	}
	calendars, err := c.dav.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", c.wrapLib(ctx, "failed to list calendars", err)
	}
	if len(calendars) == 0 {
		return "", retry.Permanent(fmt.Errorf("server has no calendars under %s", homeSet))
	}

	picked := pickCalendar(calendars, c.name)
	if picked == nil {
		names := make([]string, 0, len(calendars))
		for _, cal := range calendars {
			names = append(names, fmt.Sprintf("%q", cal.Name))
		}
		return "", retry.Permanent(fmt.Errorf("calendar %q not found (server has: %s)", c.name, strings.Join(names, ", ")))
	}

	c.calendarPath = picked.Path
	c.logger.Printf("Using calendar %q (%s)", picked.Name, picked.Path)
	return c.calendarPath, nil
}

// pickCalendar returns the calendar matching name, or the first
// VTODO-capable one when name is empty. A calendar that advertises no
// component set at all is assumed capable.
func pickCalendar(calendars []caldav.Calendar, name string) *caldav.Calendar {
	for i := range calendars {
		cal := &calendars[i]
		if name != "" {
			if cal.Name == name {
				return cal
			}
			continue
		}
		if supportsTodo(cal) {
			return cal
		}
	}
	return nil
}

func supportsTodo(cal *caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompToDo {
			return true
		}
	}
	return false
}

var todoQuery = &caldav.CalendarQuery{
	CompRequest: caldav.CalendarCompRequest{
		Name: ical.CompCalendar,
		Comps: []caldav.CalendarCompRequest{{
			Name:     ical.CompToDo,
			AllProps: true,
		}},
	},
	CompFilter: caldav.CompFilter{
		Name:  ical.CompCalendar,
		Comps: []caldav.CompFilter{{Name: ical.CompToDo}},
	},
}

// FetchAll runs the VTODO calendar-query and returns the parsed records
// in server response order. The uid → path index used by FetchRaw is
// rebuilt from this snapshot.
func (c *Client) FetchAll(ctx context.Context) ([]*sync.RemoteRecord, error) {
	path, err := c.locate(ctx)
	if err != nil {
		return nil, err
	}

	objs, err := c.dav.QueryCalendar(ctx, path, todoQuery)
	if err != nil {
		return nil, c.wrapLib(ctx, "failed to query calendar", err)
	}

	paths := make(map[string]string, len(objs))
	records := make([]*sync.RemoteRecord, 0, len(objs))
	for _, obj := range objs {
		rec := recordFromObject(&obj)
		if rec == nil {
			c.logger.Printf("WARNING: skipping %s: no usable VTODO", obj.Path)
			continue
		}
		paths[rec.UID] = rec.Path
		records = append(records, rec)
	}
	c.paths = paths
	return records, nil
}

// recordFromObject reads the first VTODO out of a query result. Returns
// nil when the object has no VTODO or the VTODO has no UID.
func recordFromObject(obj *caldav.CalendarObject) *sync.RemoteRecord {
	if obj.Data == nil {
		return nil
	}
	for _, comp := range obj.Data.Children {
		if comp.Name != ical.CompToDo {
			continue
		}
		uidProp := comp.Props.Get(ical.PropUID)
		if uidProp == nil || uidProp.Value == "" {
			return nil
		}

		rec := &sync.RemoteRecord{
			UID:    uidProp.Value,
			Path:   obj.Path,
			ETag:   quoteETag(obj.ETag),
			Status: task.StatusOpen,
		}
		if p := comp.Props.Get(ical.PropSummary); p != nil {
			rec.Summary = ics.UnescapeText(p.Value)
		}
		if p := comp.Props.Get(ical.PropDue); p != nil {
			if due, err := ics.ParseDate(p.Value); err == nil {
				rec.Due = due
			}
		}
		if p := comp.Props.Get(ical.PropStatus); p != nil {
			rec.Status = ics.StatusFromWire(p.Value)
		}
		rec.LastModified = lastModified(comp, obj.ModTime)
		return rec
	}
	return nil
}

// lastModified reads the record's modification stamp: LAST-MODIFIED,
// then DTSTAMP, then the transport-level modification time.
func lastModified(comp *ical.Component, transport time.Time) time.Time {
	for _, name := range []string{ical.PropLastModified, ical.PropDateTimeStamp} {
		if p := comp.Props.Get(name); p != nil {
			if t, err := ics.ParseDateTime(p.Value); err == nil {
				return t
			}
		}
	}
	return transport
}

// FetchRaw GETs the record's resource and returns the body byte-exact.
// The path comes from the last FetchAll snapshot; a stale snapshot is
// refreshed once before giving up.
func (c *Client) FetchRaw(ctx context.Context, uid string) (string, error) {
	path, err := c.resolvePath(ctx, uid)
	if err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, "")
	if err != nil {
		return "", retry.Permanent(err)
	}
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", uid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", httpError(fmt.Sprintf("failed to fetch %s", uid), resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("failed to read %s: %w", uid, err))
	}
	return string(body), nil
}

func (c *Client) resolvePath(ctx context.Context, uid string) (string, error) {
	if path, ok := c.paths[uid]; ok {
		return path, nil
	}
	// Stale or missing index entry: refresh the snapshot once.
	if _, err := c.FetchAll(ctx); err != nil {
		return "", err
	}
	if path, ok := c.paths[uid]; ok {
		return path, nil
	}
	return "", retry.Permanent(fmt.Errorf("record %s not found in collection", uid))
}

// Create PUTs a minimal new VTODO under a fresh UID. If-None-Match
// guards against the astronomically unlikely UID collision. When the
// server omits the ETag from the PUT response, a follow-up GET fetches
// it.
func (c *Client) Create(ctx context.Context, summary string, due *time.Time, status task.Status) (*sync.RemoteRecord, error) {
	collection, err := c.locate(ctx)
	if err != nil {
		return nil, err
	}

	uid := uuid.New().String()
	path := strings.TrimSuffix(collection, "/") + "/" + uid + ".ics"
	stamp := c.now().UTC().Truncate(time.Second)
	raw := ics.NewTodo(uid, summary, due, status, stamp)

	req, err := c.newRequest(ctx, http.MethodPut, path, raw)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("If-None-Match", "*")
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpError("failed to create record", resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		etag, err = c.fetchETag(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("record created but etag unavailable: %w", err)
		}
	}

	c.paths[uid] = path
	return &sync.RemoteRecord{
		UID:          uid,
		Path:         path,
		ETag:         etag,
		Summary:      summary,
		Due:          due,
		Status:       status,
		LastModified: stamp,
	}, nil
}

// UpdateRaw PUTs a patched record back under If-Match. A 412 means the
// record changed on the server since it was fetched; that is a permanent
// error here, and the next cycle sees the new remote state and re-decides.
func (c *Client) UpdateRaw(ctx context.Context, uid, raw, etag, path string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPut, path, raw)
	if err != nil {
		return "", retry.Permanent(err)
	}
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}
	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", uid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", httpError(fmt.Sprintf("failed to update %s", uid), resp)
	}

	newETag := resp.Header.Get("ETag")
	if newETag == "" {
		newETag, err = c.fetchETag(ctx, path)
		if err != nil {
			return "", fmt.Errorf("record updated but etag unavailable: %w", err)
		}
	}
	return newETag, nil
}

func (c *Client) fetchETag(ctx context.Context, path string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, "")
	if err != nil {
		return "", retry.Permanent(err)
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", httpError("failed to fetch etag", resp)
	}
	io.Copy(io.Discard, resp.Body)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", retry.Permanent(fmt.Errorf("server returns no etag for %s", path))
	}
	return etag, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, body string) (*http.Request, error) {
	u := *c.base
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	if method == http.MethodPut {
		req.Header.Set("Content-Type", ical.MIMEType+"; charset=utf-8")
	}
	return req, nil
}

// do sends a raw request and classifies transport-level failures:
// caller cancellation is permanent, everything else transient.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, retry.Permanent(err)
		}
		return nil, retry.Transient(err)
	}
	return resp, nil
}

// wrapLib classifies an error surfaced by the webdav library, which does
// not expose HTTP status codes: transient unless the caller canceled.
func (c *Client) wrapLib(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return retry.Permanent(fmt.Errorf("%s: %w", op, err))
	}
	return retry.Transient(fmt.Errorf("%s: %w", op, err))
}

// httpError maps a non-2xx response on a raw call to the retry taxonomy.
// The body is drained for the message snippet; the caller still owns the
// close.
func httpError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	err := fmt.Errorf("%s: server returned %s", op, resp.Status)
	if s := strings.TrimSpace(string(snippet)); s != "" {
		err = fmt.Errorf("%s: server returned %s: %s", op, resp.Status, s)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.RateLimited(err, parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return retry.Transient(err)
	default:
		// 401/403 bad credentials, 412 lost update, 404 vanished
		// resource, and the rest of the 4xx family: retrying the same
		// request cannot help.
		return retry.Permanent(err)
	}
}

// quoteETag restores the wire form of an etag the webdav library
// unquoted. Mappings store the wire form so the token can go straight
// back out as If-Match.
func quoteETag(etag string) string {
	if etag == "" || strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, "W/") {
		return etag
	}
	return `"` + etag + `"`
}

// parseRetryAfter reads a Retry-After header, either delta-seconds or an
// HTTP date. Zero means "no hint".
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
