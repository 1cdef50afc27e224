package mailagent

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	to, subject, message string
	failErr              error
}

func (f *fakeSender) Send(to, subject, message string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.to, f.subject, f.message = to, subject, message
	return nil
}

func TestHandleEmailSendsAndReturnsOK(t *testing.T) {
	sender := &fakeSender{}
	a := NewWithSender(sender)

	form := url.Values{"to": {"oncall@example.com"}, "subject": {"build broke"}, "message": {"see logs"}}
	req := httptest.NewRequest(http.MethodPost, "/email", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	a.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "oncall@example.com", sender.to)
	require.Equal(t, "build broke", sender.subject)
	require.Equal(t, "see logs", sender.message)
}

func TestHandleEmailRejectsMissingFields(t *testing.T) {
	a := NewWithSender(&fakeSender{})

	req := httptest.NewRequest(http.MethodPost, "/email", strings.NewReader("subject=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEmailPropagatesSendFailure(t *testing.T) {
	sender := &fakeSender{failErr: errSendFailed}
	a := NewWithSender(sender)

	form := url.Values{"to": {"a@b.com"}, "message": {"hi"}}
	req := httptest.NewRequest(http.MethodPost, "/email", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestClientSendPostsExpectedForm(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.Form
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.Send("a@b.com", "subj", "msg"))
	require.Equal(t, "a@b.com", gotForm.Get("to"))
	require.Equal(t, "subj", gotForm.Get("subject"))
	require.Equal(t, "msg", gotForm.Get("message"))
}

func TestClientSendReturnsErrorOnNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.Error(t, c.Send("a@b.com", "subj", "msg"))
}

var errSendFailed = &fakeSendError{}

type fakeSendError struct{}

func (e *fakeSendError) Error() string { return "boom" }
