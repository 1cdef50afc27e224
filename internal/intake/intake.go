// Package intake implements submission intake: the authenticated HTTPS
// endpoint that accepts a (sha, ldap, netconfigs, operating_systems) tuple,
// assigns an SRID, validates it against the data model's invariants, and
// publishes a single message onto the "intake" queue.
package intake

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oriys/stoneridge/internal/config"
	"github.com/oriys/stoneridge/internal/logging"
	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
	"github.com/oriys/stoneridge/internal/mqtopics"
	"github.com/oriys/stoneridge/internal/runid"
)

// Credentials authenticates a (ldap, token) pair against a configured
// table. It is intentionally narrow — HTTP Basic auth against a static
// table is all the submission intake endpoint needs.
type Credentials interface {
	Authenticate(ldap, token string) bool
}

// StaticCredentials is the simplest Credentials implementation: an
// in-memory ldap->token map loaded from configuration.
type StaticCredentials map[string]string

// Authenticate reports whether token is the configured token for ldap.
func (c StaticCredentials) Authenticate(ldap, token string) bool {
	want, ok := c[ldap]
	return ok && want == token && token != ""
}

// CredentialsFromConfig reads the "auth" section as a ldap->token table.
func CredentialsFromConfig(cfg *config.Config) StaticCredentials {
	return StaticCredentials(cfg.Section("auth"))
}

// Server serves the submission intake HTTP endpoint.
type Server struct {
	bus   mq.Bus
	creds Credentials
}

// NewServer builds an intake Server publishing onto bus and authenticating
// against creds.
func NewServer(bus mq.Bus, creds Credentials) *Server {
	return &Server{bus: bus, creds: creds}
}

// Handler returns the http.Handler for the intake endpoint, mounted at
// POST /srpush by the caller.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /srpush", s.handlePush)
	return mux
}

type PushRequest struct {
	Sha              string                  `json:"sha"`
	Ldap             string                  `json:"ldap"`
	Nightly          bool                    `json:"nightly"`
	Netconfigs       []model.Netconfig       `json:"netconfig"`
	OperatingSystems []model.OperatingSystem `json:"operating_system"`
	Srid             string                  `json:"srid"`
}

type pushResponse struct {
	Srid string `json:"srid"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ldap, token, ok := r.BasicAuth()
	if !ok || !s.creds.Authenticate(ldap, token) {
		w.Header().Set("WWW-Authenticate", `Basic realm="stoneridge"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req := PushRequest{
		Sha:     r.FormValue("sha"),
		Ldap:    r.FormValue("ldap"),
		Srid:    r.FormValue("srid"),
		Nightly: r.FormValue("nightly") == "true",
	}
	for _, v := range r.Form["netconfig"] {
		req.Netconfigs = append(req.Netconfigs, model.Netconfig(v))
	}
	for _, v := range r.Form["operating_system"] {
		req.OperatingSystems = append(req.OperatingSystems, model.OperatingSystem(v))
	}

	srid, err := s.Submit(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pushResponse{Srid: srid})
}

// Submit validates req, assigns its SRID if absent, and publishes it onto
// the intake queue. It is exported separately from handlePush so the
// srenqueuer CLI (which pulls from an external list_unhandled endpoint
// rather than serving HTTP) can reuse the same validation and publish path.
func (s *Server) Submit(ctx context.Context, req PushRequest) (string, error) {
	rr := model.RunRequest{
		Srid:             req.Srid,
		Nightly:          req.Nightly,
		Ldap:             req.Ldap,
		Sha:              req.Sha,
		OperatingSystems: req.OperatingSystems,
		Netconfigs:       req.Netconfigs,
		Attempt:          1,
	}
	if err := rr.Validate(); err != nil {
		return "", err
	}
	if rr.Srid == "" {
		if rr.Nightly {
			rr.Srid = runid.NewNightlySRID()
		} else {
			rr.Srid = runid.NewSRID(rr.Ldap, rr.Sha)
		}
	}

	if err := s.bus.Publish(ctx, mqtopics.Intake, rr); err != nil {
		return "", err
	}
	logging.Op().Info("intake: published run request", "srid", rr.Srid, "nightly", rr.Nightly)
	return rr.Srid, nil
}
