// Package enqueuer implements cmd/srenqueuer's poll loop: periodically pull
// unhandled pushes from an external submission tracker's HTTP API, mark
// each handled, and publish it onto the local intake queue. Grounded on
// srenqueuer.py's main loop — in particular its "abort the whole cycle on
// a mark-handled failure" behavior, which avoids enqueuing the same push
// twice if the tracker didn't actually record it as handled.
package enqueuer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/oriys/stoneridge/internal/intake"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
)

// Submitter is the narrow subset of intake.Server this package needs, so
// tests can substitute a fake without a real bus.
type Submitter interface {
	Submit(ctx context.Context, req intake.PushRequest) (string, error)
}

// entry is one row of the tracker's /list_unhandled response.
type entry struct {
	PushID           int                     `json:"pushid"`
	Ldap             string                  `json:"ldap"`
	Sha              string                  `json:"sha"`
	Netconfigs       []model.Netconfig       `json:"netconfigs"`
	OperatingSystems []model.OperatingSystem `json:"operating_systems"`
	Srid             string                  `json:"srid"`
}

// Config configures an Enqueuer.
type Config struct {
	// Root is the external tracker's base URL (no trailing slash).
	Root       string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// Enqueuer polls an external push tracker and feeds the local intake
// queue.
type Enqueuer struct {
	cfg       Config
	submitter Submitter
}

// New builds an Enqueuer.
func New(cfg Config, submitter Submitter) *Enqueuer {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Enqueuer{cfg: cfg, submitter: submitter}
}

// Poll runs one list/mark/enqueue cycle. A failure listing is logged and
// treated as "try again next cycle" (matching srenqueuer.py's bare except
// around the initial GET, since the tracker is occasionally flaky even
// when otherwise healthy). A failure marking an entry handled aborts the
// rest of the cycle so the same push is never enqueued twice.
func (e *Enqueuer) Poll(ctx context.Context) {
	entries, err := e.listUnhandled(ctx)
	if err != nil {
		logging.Op().Warn("enqueuer: failed to list unhandled pushes, will retry", "error", err)
		return
	}

	for _, ent := range entries {
		if err := e.markHandled(ctx, ent.PushID); err != nil {
			logging.Op().Warn("enqueuer: failed to mark push handled, aborting cycle", "pushid", ent.PushID, "error", err)
			return
		}

		req := intake.PushRequest{
			Sha:              ent.Sha,
			Ldap:             ent.Ldap,
			Srid:             ent.Srid,
			Netconfigs:       ent.Netconfigs,
			OperatingSystems: ent.OperatingSystems,
		}
		srid, err := e.submitter.Submit(ctx, req)
		if err != nil {
			logging.Op().Error("enqueuer: failed to enqueue push", "pushid", ent.PushID, "error", err)
			continue
		}
		logging.Op().Info("enqueuer: enqueued push", "pushid", ent.PushID, "srid", srid)
	}
}

func (e *Enqueuer) listUnhandled(ctx context.Context) ([]entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Root+"/list_unhandled", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(e.cfg.Username, e.cfg.Password)

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var entries []entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode list_unhandled response: %w", err)
	}
	return entries, nil
}

func (e *Enqueuer) markHandled(ctx context.Context, pushID int) error {
	form := url.Values{"id": {strconv.Itoa(pushID)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Root+"/mark_handled", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(e.cfg.Username, e.cfg.Password)

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
