package intake

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/model"
	"github.com/oriys/stoneridge/internal/mq"
)

func TestSubmitAssignsSridAndPublishes(t *testing.T) {
	bus := mq.NewMemBus()
	srv := NewServer(bus, StaticCredentials{"user": "token"})

	received := make(chan model.RunRequest, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bus.Listen(ctx, "intake", func(ctx context.Context, d mq.Delivery) error {
			var rr model.RunRequest
			if err := d.Decode(&rr); err != nil {
				return err
			}
			received <- rr
			return nil
		})
	}()

	srid, err := srv.Submit(ctx, PushRequest{
		Ldap:             "user",
		Sha:              "abcdef012345",
		Netconfigs:       []model.Netconfig{model.NetconfigBroadband},
		OperatingSystems: []model.OperatingSystem{model.OSLinux},
	})
	require.NoError(t, err)
	require.Equal(t, "user-abcdef012345", srid)

	rr := <-received
	require.Equal(t, "user-abcdef012345", rr.Srid)
	require.Equal(t, 1, rr.Attempt)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	srv := NewServer(mq.NewMemBus(), StaticCredentials{})
	_, err := srv.Submit(context.Background(), PushRequest{Nightly: true, Ldap: "user"})
	require.Error(t, err)
}

func TestHandlePushRequiresAuth(t *testing.T) {
	srv := NewServer(mq.NewMemBus(), StaticCredentials{"user": "token"})
	req := httptest.NewRequest(http.MethodPost, "/srpush", strings.NewReader(""))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlePushHappyPath(t *testing.T) {
	bus := mq.NewMemBus()
	srv := NewServer(bus, StaticCredentials{"user": "token"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Listen(ctx, "intake", func(ctx context.Context, d mq.Delivery) error { return nil }) }()

	form := url.Values{
		"sha":              {"abcdef012345"},
		"ldap":             {"user"},
		"netconfig":        {"broadband"},
		"operating_system": {"linux"},
	}
	req := httptest.NewRequest(http.MethodPost, "/srpush", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("user", "token")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "user-abcdef012345")
}
