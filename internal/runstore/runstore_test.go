package runstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyDSN(t *testing.T) {
	_, err := New(context.Background(), "")
	require.Error(t, err)
}

func TestRecordRejectsMissingSrid(t *testing.T) {
	s := &Store{}
	err := s.Record(context.Background(), Record{Status: StatusSubmitted})
	require.Error(t, err)
}
