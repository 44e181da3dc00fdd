package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServerShutdownStopsStart(t *testing.T) {
	server, _ := newTestServer(t)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	// Graceful shutdown surfaces as ErrServerClosed, which callers must
	// treat as a clean exit rather than a startup failure.
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}
