// Package model holds the wire- and disk-level data shapes that a single
// SRID carries through every stage of the pipeline: the run request queued
// at intake, the per-build metadata record written by infogatherer, and the
// measurement record a test emits and the collator flattens for upload.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/oriys/stoneridge/internal/srerrors"
)

// OperatingSystem is one of the three platforms the harness clones builds
// and runs tests for.
type OperatingSystem string

const (
	OSLinux   OperatingSystem = "linux"
	OSMac     OperatingSystem = "mac"
	OSWindows OperatingSystem = "windows"
)

// Netconfig is one of the three network profiles a run is exercised under.
type Netconfig string

const (
	NetconfigBroadband Netconfig = "broadband"
	NetconfigUMTS      Netconfig = "umts"
	NetconfigGSM       Netconfig = "gsm"
)

// AllOperatingSystems and AllNetconfigs are the closed enumerations used to
// validate a RunRequest and to expand "all" in the submission CLI.
var (
	AllOperatingSystems = []OperatingSystem{OSLinux, OSMac, OSWindows}
	AllNetconfigs       = []Netconfig{NetconfigBroadband, NetconfigUMTS, NetconfigGSM}
)

// RunRequest is the message published on the intake queue and carried,
// narrowed at each fan-out point, through every downstream queue. Srid is
// assigned at intake if absent; Tstamp is assigned by the master just
// before fan-out so every downstream stage for a single SRID observes the
// same timestamp.
type RunRequest struct {
	Srid             string            `json:"srid"`
	Nightly          bool              `json:"nightly"`
	Ldap             string            `json:"ldap,omitempty"`
	Sha              string            `json:"sha,omitempty"`
	OperatingSystems []OperatingSystem `json:"operating_systems"`
	Netconfigs       []Netconfig       `json:"netconfigs"`
	Attempt          int               `json:"attempt"`
	Tstamp           int64             `json:"tstamp,omitempty"`
}

// NetconfigMessage is what the master publishes to a per-netconfig queue:
// the request narrowed to a single netconfig, still carrying every target OS.
type NetconfigMessage struct {
	Srid             string            `json:"srid"`
	OperatingSystems []OperatingSystem `json:"operating_systems"`
	Tstamp           int64             `json:"tstamp"`
	Ldap             string            `json:"ldap,omitempty"`
}

// ClientMessage is what a per-netconfig scheduler publishes to a per-OS
// queue: the request narrowed to a single (netconfig, os) pair.
type ClientMessage struct {
	Srid      string    `json:"srid"`
	Netconfig Netconfig `json:"netconfig"`
	Tstamp    int64     `json:"tstamp"`
	Ldap      string    `json:"ldap,omitempty"`
}

// BuildIdentity captures the browser build fields written into info.json.
type BuildIdentity struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	Revision         string `json:"revision"`
	Branch           string `json:"branch"`
	BuildID          string `json:"buildid"`
	OriginalBuildID  string `json:"original_buildid"`
}

// MachineIdentity captures the client host fields written into info.json.
type MachineIdentity struct {
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	OSVersion string `json:"os_version"`
	CPU       string `json:"cpu"`
}

// InfoRecord is the metadata record (info.json) produced by the
// infogatherer stage and re-embedded, unmodified, alongside every
// measurement upload.
type InfoRecord struct {
	Build     BuildIdentity   `json:"build"`
	Machine   MachineIdentity `json:"machine"`
	Netconfig Netconfig       `json:"netconfig"`
	Srid      string          `json:"srid"`
	Timestamp int64           `json:"timestamp"`
}

// PageTiming is one {start, stop, total} triple for a single page load.
type PageTiming struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Total float64 `json:"total"`
}

// RawMeasurement is what a single test emits: a per-page mapping of timing
// triples plus an aggregate total list.
type RawMeasurement struct {
	Pages map[string][]PageTiming `json:"pages"`
	Total []float64               `json:"total"`
}

// UploadPayload is the flattened, upload-ready shape the collator produces:
// a copy of InfoRecord plus the flattened results and a testrun label.
type UploadPayload struct {
	InfoRecord
	TestRun    string                     `json:"testrun"`
	Results    map[string][]float64       `json:"results"`
	ResultsAux map[string][]float64       `json:"results_aux"`
}

// Flatten turns a RawMeasurement into the {results, results_aux} shape the
// graph server and the archived results.json expect.
func Flatten(raw RawMeasurement) (results map[string][]float64, resultsAux map[string][]float64) {
	results = make(map[string][]float64, len(raw.Pages))
	resultsAux = make(map[string][]float64, len(raw.Pages)*2+1)
	for page, timings := range raw.Pages {
		totals := make([]float64, 0, len(timings))
		starts := make([]float64, 0, len(timings))
		stops := make([]float64, 0, len(timings))
		for _, t := range timings {
			totals = append(totals, t.Total)
			starts = append(starts, t.Start)
			stops = append(stops, t.Stop)
		}
		results[page] = totals
		resultsAux[page+"_start"] = starts
		resultsAux[page+"_stop"] = stops
	}
	resultsAux["totals"] = raw.Total
	return results, resultsAux
}

// OutgoingMessage is what the uploader stage publishes to the "outgoing"
// queue: the flattened results plus the base64-encoded metadata zip the
// reporter persists verbatim alongside the upload.
type OutgoingMessage struct {
	Srid            string          `json:"srid"`
	Netconfig       Netconfig       `json:"netconfig"`
	OperatingSystem OperatingSystem `json:"operating_system"`
	Results         json.RawMessage `json:"results"`
	MetadataZip     string          `json:"metadata"`
}

// DeferralRecord is republished to the intake queue by the deferrer when
// the cloner could not satisfy a request because the upstream artifact was
// not yet published.
type DeferralRecord struct {
	RunRequest
}

// RPCReply is the body of an RPC-variant reply, per the bus's
// correlation-id Call/Reply contract.
type RPCReply struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg,omitempty"`
}

// Validate checks the RunRequest invariants from the data model: a nightly
// request carries no ldap/sha, a try request carries both, and sha must be
// at least 12 characters (the length a submitted sha is truncated to
// downstream). It does not assign Srid or Tstamp; callers do that
// separately once validation passes.
func (r RunRequest) Validate() error {
	if r.Nightly {
		if r.Ldap != "" || r.Sha != "" {
			return errInvalidRequest("nightly request must not carry ldap or sha")
		}
	} else {
		if r.Ldap == "" || r.Sha == "" {
			return errInvalidRequest("try request requires both ldap and sha")
		}
		if len(r.Sha) < 12 {
			return errInvalidRequest("sha must be at least 12 characters")
		}
	}
	if len(r.OperatingSystems) == 0 {
		return errInvalidRequest("operating_systems must not be empty")
	}
	if len(r.Netconfigs) == 0 {
		return errInvalidRequest("netconfigs must not be empty")
	}
	for _, os := range r.OperatingSystems {
		if !isKnownOS(os) {
			return errInvalidRequest("unknown operating system: " + string(os))
		}
	}
	for _, nc := range r.Netconfigs {
		if !isKnownNetconfig(nc) {
			return errInvalidRequest("unknown netconfig: " + string(nc))
		}
	}
	return nil
}

func isKnownOS(os OperatingSystem) bool {
	for _, o := range AllOperatingSystems {
		if o == os {
			return true
		}
	}
	return false
}

func isKnownNetconfig(nc Netconfig) bool {
	for _, n := range AllNetconfigs {
		if n == nc {
			return true
		}
	}
	return false
}

func errInvalidRequest(msg string) error {
	return fmt.Errorf("%s: %w", msg, srerrors.ErrInvalidRequest)
}
