package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	t.Parallel()

	c := New("fedchat")
	c.Routed("sendDM", OutcomeRelayed)
	c.Routed("sendDM", OutcomeRelayed)
	c.Dial("failed")
	c.SetPeers(2)
	c.SetPresence(3, 4)
	c.Flushed(5, nil)
	c.Flushed(1, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RoutedEvents.WithLabelValues("sendDM", OutcomeRelayed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PeerDials.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PeersActive))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.PresenceSize.WithLabelValues("remote")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.FlushedDocs))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StateFlushes.WithLabelValues("error")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.Routed("x", OutcomeLocal)
	c.Dial("ok")
	c.SetPeers(1)
	c.SetSessions(1)
	c.SetPresence(1, 1)
	c.Dropped("malformed")
	c.Flushed(1, nil)
	c.Reloaded("words")
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	c := New("fedchat")
	c.SetSessions(7)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "fedchat_client_sessions 7"))
}
