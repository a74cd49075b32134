// Package poller runs the polling engine: the loop that watches the object
// store for expected invoice artifacts, persists them, and triggers player
// notification. It is the single deleter of registry entries and the single
// writer of invoice records.
package poller

import (
	"context"
	"encoding/base64"
	"log"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orderrush/backend/internal/config"
	"github.com/orderrush/backend/internal/invoicestore"
	"github.com/orderrush/backend/internal/metrics"
	"github.com/orderrush/backend/internal/objstore"
	"github.com/orderrush/backend/internal/registry"
)

// DeliverFunc pushes an invoice_ready notification to the owning player's
// session. It reports whether a live session received it; the engine
// consumes the registration either way once the record is on disk.
type DeliverFunc func(rec *invoicestore.Record, exp *registry.Expected) bool

// PN extraction patterns, tried in order against the object's base name.
// First match wins.
var pnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invoice[_-](\d+)`),
	regexp.MustCompile(`(?i)(\d+)\.pdf$`),
	regexp.MustCompile(`(?i)invoice(\d+)`),
	regexp.MustCompile(`(?i)(\d+)[_-]invoice`),
}

// ExtractPN pulls a candidate PO number out of an object key. Returns ""
// when no pattern matches. The result is advisory: only the registry
// decides whether the number means anything.
func ExtractPN(key string) string {
	base := path.Base(key)
	for _, re := range pnPatterns {
		if m := re.FindStringSubmatch(base); m != nil {
			return m[1]
		}
	}
	return ""
}

// eligible applies the cheap prefilter: an object is worth pattern-matching
// only if it ends in .pdf or mentions "invoice" at all.
func eligible(key string) bool {
	base := strings.ToLower(path.Base(key))
	return strings.HasSuffix(base, ".pdf") || strings.Contains(base, "invoice")
}

// Config holds the engine's knobs.
type Config struct {
	// Interval between scans
	Interval time.Duration

	// Bucket to list
	Bucket string

	// MaxRetries: completed scans an entry may miss before it expires.
	// config.UnlimitedRetries (-1) disables expiry.
	MaxRetries int

	// StreamThreshold: artifacts at or above this size stream to disk
	// instead of passing through memory. 0 disables streaming.
	StreamThreshold int64
}

// missState tracks how many completed scans an entry has sat through
// without its artifact appearing. The epoch pins the counter to one
// registration; re-registering restarts the budget.
type missState struct {
	epoch time.Time
	count int
}

// Engine is the polling loop. One goroutine runs ticks; a one-slot channel
// guarantees scans never overlap even when RunOnce is called concurrently.
type Engine struct {
	cfg      Config
	gateway  objstore.Gateway
	store    *invoicestore.Store
	registry *registry.Registry
	deliver  DeliverFunc
	metrics  *metrics.Metrics
	logger   *log.Logger

	sem    chan struct{}
	misses map[string]*missState
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine. Call Start to begin scanning.
func New(cfg Config, gateway objstore.Gateway, store *invoicestore.Store, reg *registry.Registry, deliver DeliverFunc, m *metrics.Metrics) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	return &Engine{
		cfg:      cfg,
		gateway:  gateway,
		store:    store,
		registry: reg,
		deliver:  deliver,
		metrics:  m,
		logger:   log.New(log.Writer(), "[Poller] ", log.LstdFlags),
		sem:      make(chan struct{}, 1),
		misses:   make(map[string]*missState),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the polling loop.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()

	retries := "unlimited"
	if e.cfg.MaxRetries != config.UnlimitedRetries {
		retries = strconv.Itoa(e.cfg.MaxRetries)
	}
	e.logger.Printf("🚀 Polling engine started (interval=%s, bucket=%s, retries=%s)",
		e.cfg.Interval, e.cfg.Bucket, retries)
}

// Stop halts scheduling and waits for any in-flight scan to finish.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Println("Polling engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.tick(context.Background())
		case <-e.stopCh:
			return
		}
	}
}

// RunOnce executes a single scan immediately. Used by the ops surface and
// tests; the single-flight guard applies.
func (e *Engine) RunOnce(ctx context.Context) {
	e.tick(ctx)
}

// ============================================================================
// SCAN
// ============================================================================

func (e *Engine) tick(ctx context.Context) {
	select {
	case e.sem <- struct{}{}:
	default:
		e.logger.Println("⚠️  Previous scan still running, dropping tick")
		e.metrics.RecordTick("skipped", 0)
		return
	}
	defer func() { <-e.sem }()

	start := time.Now()

	// The loop is gated, not stopped, by an empty registry: nothing
	// expected means nothing to look for.
	pending := e.registry.Snapshot()
	if len(pending) == 0 {
		e.metrics.RecordTick("gated", time.Since(start).Seconds())
		return
	}

	objects, err := e.gateway.List(ctx, e.cfg.Bucket)
	if err != nil {
		e.logger.Printf("❌ Listing %s failed: %v", e.cfg.Bucket, err)
		e.metrics.RecordFailure("list")
		e.metrics.RecordTick("error", time.Since(start).Seconds())
		return
	}
	e.metrics.RecordObjects(len(objects))

	processed := 0
	for _, obj := range objects {
		if e.processObject(ctx, obj) {
			processed++
		}
	}

	e.sweepExpired(pending)

	e.metrics.SetPendingExpected(e.registry.Len())
	e.metrics.RecordTick("ok", time.Since(start).Seconds())
	if processed > 0 {
		e.logger.Printf("✅ Scan complete: %d invoice(s) handled, %d still pending", processed, e.registry.Len())
	}
}

// processObject runs one object through the filter, extraction, and lookup
// chain. Returns true when an expected invoice was handled.
func (e *Engine) processObject(ctx context.Context, obj objstore.ObjectInfo) bool {
	if !eligible(obj.Key) {
		return false
	}

	pn := ExtractPN(obj.Key)
	if pn == "" {
		return false
	}

	// Strict expected-only: unsolicited objects are invisible.
	exp := e.registry.Lookup(pn)
	if exp == nil {
		return false
	}

	if e.store.Has(pn) {
		return e.renotify(pn, exp)
	}
	return e.processAndNotify(ctx, obj, pn, exp)
}

// renotify handles an invoice already on disk from a prior run: re-read the
// record, tell the player, and release the registration. The registration
// is consumed even when the player is offline — the record is durable and
// retrievable on demand.
func (e *Engine) renotify(pn string, exp *registry.Expected) bool {
	rec, err := e.store.Get(pn)
	if err != nil {
		e.logger.Printf("❌ Re-notify read of %s failed: %v", pn, err)
		e.metrics.RecordFailure("read")
		return false
	}

	if !e.deliver(rec, exp) {
		e.logger.Printf("⚠️  Invoice %s ready but player %s unreachable", pn, exp.PlayerID)
	}

	e.registry.Consume(pn)
	delete(e.misses, pn)
	e.metrics.RecordProcessed("renotified")
	e.logger.Printf("📦 Re-notified invoice %s (cached)", pn)
	return true
}

// processAndNotify fetches, persists, and announces a new invoice. Fetch or
// persist failure leaves the registration in place for the next scan; a
// failed notification does not, because the record is already durable.
func (e *Engine) processAndNotify(ctx context.Context, obj objstore.ObjectInfo, pn string, exp *registry.Expected) bool {
	rec := &invoicestore.Record{
		InvoiceNumber: pn,
		PlayerID:      exp.PlayerID,
		Filename:      path.Base(obj.Key),
		S3Metadata: invoicestore.S3Metadata{
			S3Key:          obj.Key,
			S3Size:         obj.Size,
			S3LastModified: obj.LastModified,
		},
	}

	if e.cfg.StreamThreshold > 0 && obj.Size >= e.cfg.StreamThreshold {
		body, size, err := e.gateway.Open(ctx, e.cfg.Bucket, obj.Key)
		if err != nil {
			e.logger.Printf("❌ Open of %s failed: %v", obj.Key, err)
			e.metrics.RecordFailure("fetch")
			return false
		}

		rec.FileSize = size
		err = e.store.PutStream(pn, rec, body)
		body.Close()
		if err != nil {
			e.logger.Printf("❌ Persist of %s failed: %v", pn, err)
			e.metrics.RecordFailure("persist")
			return false
		}
	} else {
		data, err := e.gateway.Fetch(ctx, e.cfg.Bucket, obj.Key)
		if err != nil {
			e.logger.Printf("❌ Fetch of %s failed: %v", obj.Key, err)
			e.metrics.RecordFailure("fetch")
			return false
		}

		rec.Base64Data = base64.StdEncoding.EncodeToString(data)
		rec.FileSize = int64(len(data))
		if err := e.store.Put(pn, rec); err != nil {
			e.logger.Printf("❌ Persist of %s failed: %v", pn, err)
			e.metrics.RecordFailure("persist")
			return false
		}
	}

	if !e.deliver(rec, exp) {
		e.logger.Printf("⚠️  Invoice %s persisted, player %s not notified", pn, exp.PlayerID)
		e.metrics.RecordFailure("delivery")
	}

	e.registry.Consume(pn)
	delete(e.misses, pn)
	e.metrics.RecordProcessed("fetched")
	e.logger.Printf("✅ Processed invoice %s for player %s (%d bytes)", pn, exp.PlayerID, rec.FileSize)
	return true
}

// ============================================================================
// EXPIRY
// ============================================================================

// sweepExpired charges one miss to every entry that was pending when the
// scan began and is still pending, unchanged, now. Entries registered or
// replaced mid-scan keep a fresh budget. With unlimited retries this is a
// no-op.
func (e *Engine) sweepExpired(pending []*registry.Expected) {
	if e.cfg.MaxRetries == config.UnlimitedRetries {
		return
	}

	for _, was := range pending {
		pn := was.InvoiceNumber

		cur := e.registry.Lookup(pn)
		if cur == nil {
			delete(e.misses, pn)
			continue
		}
		if !cur.RegisteredAt.Equal(was.RegisteredAt) {
			delete(e.misses, pn)
			continue
		}

		ms := e.misses[pn]
		if ms == nil || !ms.epoch.Equal(cur.RegisteredAt) {
			ms = &missState{epoch: cur.RegisteredAt}
			e.misses[pn] = ms
		}
		ms.count++

		if ms.count >= e.cfg.MaxRetries {
			e.registry.Consume(pn)
			delete(e.misses, pn)
			e.metrics.RecordExpiration()
			e.logger.Printf("🚫 Expired invoice %s for player %s after %d scans without a match",
				pn, cur.PlayerID, ms.count)
		}
	}
}
