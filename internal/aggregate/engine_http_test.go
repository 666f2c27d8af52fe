package aggregate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldmap/internal/api"
	"github.com/sells-group/fieldmap/internal/fetcher"
	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/resilience"
	"github.com/sells-group/fieldmap/internal/sessioncache"
)

func TestEngine_FailingStopCostsThreeRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Rate:       1000,
		Retry:      &resilience.RetryConfig{Backoff: resilience.LinearBackoff(time.Millisecond)},
	})
	client, err := api.NewClient(srv.URL, f)
	require.NoError(t, err)

	e := NewEngine(client, sessioncache.New[*model.SalesDocument](10, time.Minute), Options{
		Retries:     2,
		BackoffStep: time.Millisecond,
	})
	res := e.ForIDs(context.Background(), []model.ID{"101"}, 1)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int32(3), hits.Load(), "one try plus two retries")
}
