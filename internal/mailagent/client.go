package mailagent

import (
	"net/http"
	"net/url"
	"time"
)

// Client is the HTTP wrapper used by machines without a local SMTP relay
// (most client workers): it posts to a configured mailagent URL instead of
// talking SMTP directly. Grounded on internal/dnsclient's thin-wrapper
// shape, generalized from a TCP wire protocol to an HTTP form POST.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// NewClient builds a Client posting to baseURL + "/email".
func NewClient(baseURL string) *Client {
	return &Client{URL: baseURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Send posts {to, subject, message} to the configured mailagent.
func (c *Client) Send(to, subject, message string) error {
	form := url.Values{
		"to":      {to},
		"subject": {subject},
		"message": {message},
	}

	resp, err := c.HTTPClient.PostForm(c.URL+"/email", form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{status: resp.StatusCode}
	}
	return nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return "mailagent: unexpected status " + http.StatusText(e.status)
}
