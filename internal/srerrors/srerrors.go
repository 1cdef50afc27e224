// Package srerrors collects the sentinel errors shared across stoneridge's
// daemons and stage binaries, so callers can classify a failure with
// errors.Is instead of string matching on log output.
package srerrors

import "errors"

var (
	// ErrInvalidRequest marks a malformed or incomplete SRID request
	// (missing ldap/sha on a try request, unknown os/netconfig, ...).
	ErrInvalidRequest = errors.New("srerrors: invalid request")

	// ErrUnauthorized marks a request rejected by an upstream auth check
	// (e.g. the reporter's push to the external graph service).
	ErrUnauthorized = errors.New("srerrors: unauthorized")

	// ErrUpstreamUnavailable marks a transient failure talking to an
	// external dependency (broker, FTP server, graph service, agent).
	ErrUpstreamUnavailable = errors.New("srerrors: upstream unavailable")

	// ErrExhaustedDeferrals marks a build that was never cloned after
	// exhausting its configured deferral attempts.
	ErrExhaustedDeferrals = errors.New("srerrors: deferral attempts exhausted")

	// ErrDownloadFailed marks a failure in the download stage.
	ErrDownloadFailed = errors.New("srerrors: download stage failed")

	// ErrUnpackFailed marks a failure in the unpack stage.
	ErrUnpackFailed = errors.New("srerrors: unpack stage failed")

	// ErrTestTimeout marks a test run that exceeded its configured
	// timeout and was killed.
	ErrTestTimeout = errors.New("srerrors: test run timed out")

	// ErrStageFailed is the generic pipeline-stage failure wrapped around
	// a stage's underlying error when no more specific sentinel applies.
	ErrStageFailed = errors.New("srerrors: pipeline stage failed")

	// ErrDnsAgentUnreachable marks a failure to exchange a request with
	// the local DNS agent over its TCP socket.
	ErrDnsAgentUnreachable = errors.New("srerrors: dns agent unreachable")

	// ErrPcapAgentError marks a non-ok envelope returned by the PCAP
	// agent, or a failure reaching it.
	ErrPcapAgentError = errors.New("srerrors: pcap agent error")

	// ErrUploadFailed marks a failure in the upload stage.
	ErrUploadFailed = errors.New("srerrors: upload stage failed")

	// ErrBadResultsJSON marks a results.json that failed to parse or was
	// missing required fields during collation.
	ErrBadResultsJSON = errors.New("srerrors: malformed results.json")
)
