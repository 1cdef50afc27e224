package srerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrappedSentinelsMatchErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("download stage for srid abc123: %w", ErrDownloadFailed)
	require.True(t, errors.Is(wrapped, ErrDownloadFailed))
	require.False(t, errors.Is(wrapped, ErrUnpackFailed))
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{
		ErrInvalidRequest, ErrUnauthorized, ErrUpstreamUnavailable,
		ErrExhaustedDeferrals, ErrDownloadFailed, ErrUnpackFailed,
		ErrTestTimeout, ErrStageFailed, ErrDnsAgentUnreachable,
		ErrPcapAgentError, ErrUploadFailed, ErrBadResultsJSON,
	}
	for i, a := range all {
		for j, b := range all {
			if i == j {
				continue
			}
			require.False(t, errors.Is(a, b), "sentinel %d and %d must be distinct", i, j)
		}
	}
}
