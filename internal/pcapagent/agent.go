// Package pcapagent implements the per-machine packet-capture service of
// §4.11: an HTTP API that starts/stops/retrieves a tcpdump capture keyed by
// peer MAC address. Grounded on internal/intake's http.NewServeMux style
// and on internal/worker/runner's subprocess-lifecycle handling (start,
// wait, kill), generalized from a per-test child to a long-lived capture.
package pcapagent

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/metrics"
	"github.com/oriys/stoneridge/internal/observability"
)

// capture tracks one in-flight or stopped packet capture for a peer MAC.
type capture struct {
	cmd        *exec.Cmd
	stdout     *os.File
	stdoutPath string
	pcapPath   string
	outdir     string
	running    bool
}

// Config configures where captures are written and how tcpdump is invoked.
type Config struct {
	ScratchRoot string
	TCPDumpExe  string
	Iface       string
	OurMAC      string
}

// Agent serves the packet-capture HTTP API. At most one capture may be
// active per peer MAC at a time; state lives entirely in memory and does
// not survive a restart.
type Agent struct {
	cfg Config
	// Metrics, if set, tracks the number of concurrently running captures.
	Metrics *metrics.Collectors

	mu       sync.Mutex
	captures map[string]*capture
}

// New builds an Agent.
func New(cfg Config) *Agent {
	return &Agent{cfg: cfg, captures: make(map[string]*capture)}
}

// activeSessions counts currently-running captures. Callers must hold a.mu.
func (a *Agent) activeSessions() int {
	n := 0
	for _, c := range a.captures {
		if c.running {
			n++
		}
	}
	return n
}

func (a *Agent) reportSessions() {
	if a.Metrics != nil {
		a.Metrics.SetPCAPSessions(float64(a.activeSessions()))
	}
}

// Handler returns the http.Handler for the three pcap endpoints.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start/{mac}", a.handleStart)
	mux.HandleFunc("POST /stop/{mac}", a.handleStop)
	mux.HandleFunc("POST /retrieve/{mac}", a.handleRetrieve)
	return observability.HTTPMiddleware(mux)
}

// retrieveData is the payload shape returned by a successful retrieve.
type retrieveData struct {
	Stdout string `json:"stdout"`
	Pcap   string `json:"pcap"`
}

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, envelope{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, msg string) {
	writeEnvelope(w, envelope{Status: "error", Message: msg})
}

func (a *Agent) handleStart(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")

	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.captures[mac]; ok && c.running {
		writeOK(w, fmt.Sprintf("Already running PCAP for %s", mac))
		return
	}

	outdir := filepath.Join(a.cfg.ScratchRoot, sanitizeMAC(mac))
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		logging.Op().Error("pcapagent: mkdir scratch dir failed", "mac", mac, "error", err)
		writeError(w, err.Error())
		return
	}

	pcapPath := filepath.Join(outdir, "capture.pcap")
	stdoutPath := filepath.Join(outdir, "tcpdump.log")
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		writeError(w, err.Error())
		return
	}

	args := []string{"-s", "2000", "-U", "-w", pcapPath}
	if a.cfg.Iface != "" {
		args = append(args, "-i", a.cfg.Iface)
	}
	if a.cfg.OurMAC != "" {
		args = append(args, "-Z", "root", "ether", "host", a.cfg.OurMAC, "and", "ether", "host", mac)
	} else {
		args = append(args, "ether", "host", mac)
	}

	cmd := exec.Command(a.cfg.TCPDumpExe, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stdout
	if err := cmd.Start(); err != nil {
		stdout.Close()
		logging.Op().Error("pcapagent: start tcpdump failed", "mac", mac, "error", err)
		writeError(w, err.Error())
		return
	}

	a.captures[mac] = &capture{
		cmd:        cmd,
		stdout:     stdout,
		stdoutPath: stdoutPath,
		pcapPath:   pcapPath,
		outdir:     outdir,
		running:    true,
	}
	logging.Op().Info("pcapagent: capture started", "mac", mac, "pcap", pcapPath)
	a.reportSessions()
	writeOK(w, nil)
}

func (a *Agent) handleStop(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")

	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.captures[mac]
	if !ok || !c.running {
		writeOK(w, fmt.Sprintf("Not running a PCAP for %s", mac))
		return
	}

	if err := c.cmd.Process.Kill(); err != nil {
		logging.Op().Warn("pcapagent: kill tcpdump failed", "mac", mac, "error", err)
	}
	_ = c.cmd.Wait()
	c.stdout.Close()
	c.running = false
	logging.Op().Info("pcapagent: capture stopped", "mac", mac)
	a.reportSessions()
	writeOK(w, nil)
}

func (a *Agent) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")

	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.captures[mac]
	if !ok {
		writeError(w, fmt.Sprintf("Not running a PCAP for %s", mac))
		return
	}
	if c.running {
		writeError(w, fmt.Sprintf("PCAP for %s is still running", mac))
		return
	}

	pcapBytes, err := os.ReadFile(c.pcapPath)
	if err != nil {
		writeError(w, err.Error())
		return
	}
	stdoutBytes, err := os.ReadFile(c.stdoutPath)
	if err != nil {
		writeError(w, err.Error())
		return
	}

	if err := os.RemoveAll(c.outdir); err != nil {
		logging.Op().Warn("pcapagent: cleanup scratch dir failed", "mac", mac, "error", err)
	}
	delete(a.captures, mac)

	writeOK(w, retrieveData{
		Stdout: base64.StdEncoding.EncodeToString(stdoutBytes),
		Pcap:   base64.StdEncoding.EncodeToString(pcapBytes),
	})
}

func sanitizeMAC(mac string) string {
	return strings.ReplaceAll(mac, ":", "-")
}
