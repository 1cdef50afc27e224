package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oriys/stoneridge/internal/srerrors"
)

func validRequest() RunRequest {
	return RunRequest{
		Ldap:             "user",
		Sha:              "abcdef012345",
		OperatingSystems: []OperatingSystem{OSLinux},
		Netconfigs:       []Netconfig{NetconfigBroadband},
		Attempt:          1,
	}
}

func TestValidateTryHappyPath(t *testing.T) {
	require.NoError(t, validRequest().Validate())
}

func TestValidateNightlyRejectsLdapOrSha(t *testing.T) {
	r := validRequest()
	r.Nightly = true
	err := r.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, srerrors.ErrInvalidRequest))
}

func TestValidateTryRejectsShortSha(t *testing.T) {
	r := validRequest()
	r.Sha = "short"
	require.ErrorIs(t, r.Validate(), srerrors.ErrInvalidRequest)
}

func TestValidateTryRejectsMissingLdap(t *testing.T) {
	r := validRequest()
	r.Ldap = ""
	require.ErrorIs(t, r.Validate(), srerrors.ErrInvalidRequest)
}

func TestValidateRejectsUnknownOS(t *testing.T) {
	r := validRequest()
	r.OperatingSystems = []OperatingSystem{"plan9"}
	require.ErrorIs(t, r.Validate(), srerrors.ErrInvalidRequest)
}

func TestFlattenProducesResultsAndAux(t *testing.T) {
	raw := RawMeasurement{
		Pages: map[string][]PageTiming{
			"about:blank": {{Start: 1, Stop: 2, Total: 1}, {Start: 3, Stop: 5, Total: 2}},
		},
		Total: []float64{1, 2},
	}
	results, aux := Flatten(raw)
	require.Equal(t, []float64{1, 2}, results["about:blank"])
	require.Equal(t, []float64{1, 3}, aux["about:blank_start"])
	require.Equal(t, []float64{2, 5}, aux["about:blank_stop"])
	require.Equal(t, []float64{1, 2}, aux["totals"])
}
