// Package reporter implements the §4.13 pipeline: it consumes the
// "outgoing" queue, decodes each named dataset, uploads well-formed ones
// to the graph server, and persists the raw payload plus metadata zip to
// an archive.Store. Grounded on srreporter.py's StoneRidgeReporter.handle
// and save_data.
package reporter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oriys/stoneridge/internal/archive"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
)

// Uploader is the narrow subset of graphclient.Client this package needs,
// so tests can substitute a fake.
type Uploader interface {
	Upload(ctx context.Context, dataset json.RawMessage) (ok bool, err error)
}

// Reporter drains the outgoing queue and reports each message.
type Reporter struct {
	uploader Uploader
	store    archive.Store
	unitTest bool

	// now is overridable so tests can assert on the preserve-with-timestamp
	// directory name deterministically.
	now func() time.Time
}

// Config configures a Reporter.
type Config struct {
	Uploader Uploader
	Store    archive.Store
	// UnitTest mirrors stoneridge.unittest: when true, datasets are logged
	// instead of uploaded (matches srreporter.py's debug-only branch).
	UnitTest bool
}

// New builds a Reporter.
func New(cfg Config) *Reporter {
	return &Reporter{uploader: cfg.Uploader, store: cfg.Store, unitTest: cfg.UnitTest, now: time.Now}
}

// Handle processes one outgoing message: decode -> upload each dataset ->
// persist raw payload + metadata under a run-scoped archive directory.
func (r *Reporter) Handle(ctx context.Context, msg model.OutgoingMessage) error {
	logging.Op().Debug("reporter: handling message", "srid", msg.Srid)

	var datasets map[string]json.RawMessage
	if err := json.Unmarshal(msg.Results, &datasets); err != nil {
		return fmt.Errorf("reporter: decode results for %s: %w", msg.Srid, err)
	}

	for name, raw := range datasets {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			logging.Op().Error("reporter: malformed dataset, skipping", "srid", msg.Srid, "dataset", name, "error", err)
			continue
		}

		if r.unitTest {
			logging.Op().Debug("reporter: would upload dataset", "srid", msg.Srid, "dataset", name)
			continue
		}

		ok, err := r.uploader.Upload(ctx, raw)
		if err != nil {
			logging.Op().Error("reporter: upload failed", "srid", msg.Srid, "dataset", name, "error", err)
			continue
		}
		if !ok {
			logging.Op().Error("reporter: graph server rejected dataset", "srid", msg.Srid, "dataset", name)
		}
	}

	return r.saveData(ctx, msg)
}

// saveData persists the raw results and metadata zip under
// <srid>_<netconfig>_<os>/, appending a timestamp suffix if that directory
// was already used by a previous attempt for the same run, so repeat
// reports are preserved rather than clobbered.
func (r *Reporter) saveData(ctx context.Context, msg model.OutgoingMessage) error {
	key := fmt.Sprintf("%s_%s_%s", msg.Srid, msg.Netconfig, msg.OperatingSystem)
	if r.archiveExists(ctx, key) {
		key = fmt.Sprintf("%s_%d", key, r.now().Unix())
	}

	if err := r.store.Put(ctx, key+"/results.json", strings.NewReader(string(msg.Results))); err != nil {
		return fmt.Errorf("reporter: persist results.json: %w", err)
	}

	metadata, err := base64.StdEncoding.DecodeString(msg.MetadataZip)
	if err != nil {
		return fmt.Errorf("reporter: decode metadata zip: %w", err)
	}
	if err := r.store.Put(ctx, key+"/metadata.zip", bytes.NewReader(metadata)); err != nil {
		return fmt.Errorf("reporter: persist metadata.zip: %w", err)
	}
	return nil
}

// archiveExists reports whether key's directory was already used.
// existsChecker is the narrow interface LocalStore/S3Store can satisfy
// optionally; Stores that don't implement it are treated as "never
// collides" (S3 keys are typically unique per run already).
type existsChecker interface {
	Exists(ctx context.Context, key string) bool
}

func (r *Reporter) archiveExists(ctx context.Context, key string) bool {
	checker, ok := r.store.(existsChecker)
	if !ok {
		return false
	}
	return checker.Exists(ctx, key)
}

// ListenAndReport drains queue on bus, calling Handle for every message
// until ctx is cancelled.
func (r *Reporter) ListenAndReport(ctx context.Context, bus mq.Bus, queue string) error {
	return bus.Listen(ctx, queue, func(ctx context.Context, d mq.Delivery) error {
		var msg model.OutgoingMessage
		if err := d.Decode(&msg); err != nil {
			logging.Op().Error("reporter: malformed outgoing message, dropping", "error", err)
			return nil
		}
		return r.Handle(ctx, msg)
	})
}
