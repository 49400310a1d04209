package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "poolsd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracesShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "poolsd", Traces: true, Insecure: true, SampleRatio: 0.5})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization=Bearer x, =skip,broken, team = pools ")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "team": "pools"}, headers)
}
