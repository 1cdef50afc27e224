// Package graphclient implements the HTTPS upload to the external graph
// server described in §4.13: each dataset is POSTed as an OAuth-1-style
// signed request, identified by (host, project, key, secret). Grounded on
// srreporter.py's use of dzclient.DatazillaRequest, with the OAuth1
// request signing itself implemented directly against RFC 5849's
// HMAC-SHA1 variant (crypto/hmac + crypto/sha1 — no pack example or
// ecosystem OAuth1 client library fits the narrow one-shot POST this
// needs; see DESIGN.md).
package graphclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/stoneridge/internal/observability"
)

// Credentials identifies the caller to the graph server via OAuth-1-style
// consumer key/secret.
type Credentials struct {
	Key    string
	Secret string
}

// Client uploads datasets to a single graph-server project over HTTPS.
type Client struct {
	Host       string
	Project    string
	Creds      Credentials
	HTTPClient *http.Client

	// nonce and now are overridable for deterministic tests.
	nonce func() string
	now   func() time.Time
}

// New builds a Client targeting https://host/project.
func New(host, project string, creds Credentials) *Client {
	return &Client{
		Host:       host,
		Project:    project,
		Creds:      creds,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		nonce:      randomNonce,
		now:        time.Now,
	}
}

// uploadResult is the graph server's JSON response body.
type uploadResult struct {
	Status string `json:"status"`
}

// expectedStatus is the graph server's literal response on a well-formed
// store, per §4.13.
const expectedStatus = "well-formed JSON stored"

// Upload POSTs dataset (already-decoded JSON) to the graph server,
// OAuth-1 signed, and reports whether the response body's status field
// matched expectedStatus. A non-200 HTTP status or a response that does
// not decode as JSON is returned as an error; a 200 response whose status
// field mismatches expectedStatus is reported via ok=false with no error,
// matching srreporter.py's "log a warning, keep going" behavior.
func (c *Client) Upload(ctx context.Context, dataset json.RawMessage) (ok bool, err error) {
	_, span := observability.StartSpan(ctx, "graphclient.upload",
		attribute.String("host", c.Host), attribute.String("project", c.Project))
	defer func() {
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
		span.End()
	}()

	endpoint := fmt.Sprintf("https://%s/project/%s/", c.Host, c.Project)

	body, err := c.signedPost(ctx, endpoint, dataset)
	if err != nil {
		return false, fmt.Errorf("graphclient: %w", err)
	}
	defer body.Close()

	var result uploadResult
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return false, fmt.Errorf("graphclient: decode response: %w", err)
	}
	return result.Status == expectedStatus, nil
}

func (c *Client) signedPost(ctx context.Context, endpoint string, dataset json.RawMessage) (io.ReadCloser, error) {
	params := c.oauthParams()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(dataset))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authorizationHeader(req.Method, endpoint, params))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) oauthParams() map[string]string {
	return map[string]string{
		"oauth_consumer_key":     c.Creds.Key,
		"oauth_nonce":            c.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(c.now().Unix(), 10),
		"oauth_version":          "1.0",
	}
}

// authorizationHeader builds the OAuth1 Authorization header value,
// signing method+URL+params per RFC 5849 §3.4.1 with an empty token
// secret (this is a two-legged, consumer-only flow).
func (c *Client) authorizationHeader(method, rawURL string, params map[string]string) string {
	signature := c.sign(method, rawURL, params)

	signed := make(map[string]string, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	signed["oauth_signature"] = signature

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `%s="%s"`, k, url.QueryEscape(signed[k]))
	}
	return b.String()
}

func (c *Client) sign(method, rawURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	normalizedParams := strings.Join(pairs, "&")

	baseString := strings.Join([]string{
		strings.ToUpper(method),
		url.QueryEscape(rawURL),
		url.QueryEscape(normalizedParams),
	}, "&")

	signingKey := url.QueryEscape(c.Creds.Secret) + "&"

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func randomNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
