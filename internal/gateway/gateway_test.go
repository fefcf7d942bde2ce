package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepdeck/prepdeck/internal/apierror"
	"github.com/prepdeck/prepdeck/internal/retry"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(Options{
		BaseURL: srv.URL,
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 100 * time.Millisecond},
		Timeout: 2 * time.Second,
	})
	return client, srv
}

func TestDedup_ConcurrentIdenticalGets(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"user":{"credits":5}}`))
	}))

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.Call(context.Background(), "/users/me?userId=u1", CallOptions{})
		}(i)
	}

	// Let all callers pile onto the in-flight entry, then release.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load(), "exactly one underlying network call")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, string(results[0]), string(results[i]), "all callers receive the same result")
	}
}

func TestDedup_EntryClearedAfterSettle(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)
	_, err = client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load(), "sequential calls each hit the network")
}

func TestDedup_FailureSharedAndCleared(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such user","code":"user_not_found"}`))
	}))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.Call(context.Background(), "/users/me?userId=ghost", CallOptions{})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, apierror.IsNotFound(err))
	}
}

func TestConditionalCache_304ReturnsCachedPayload(t *testing.T) {
	const payload = `{"user":{"id":"u1","credits":12}}`
	var sawToken atomic.Bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			sawToken.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(payload))
	}))

	first, err := client.Call(context.Background(), "/users/me?userId=u1", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, payload, string(first))

	second, err := client.Call(context.Background(), "/users/me?userId=u1", CallOptions{})
	require.NoError(t, err)
	assert.True(t, sawToken.Load(), "revalidation token presented on the second read")
	assert.Equal(t, payload, string(second), "cached payload returned unchanged")
}

func TestConditionalCache_SkipCacheBypassesToken(t *testing.T) {
	var tokens atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			tokens.Add(1)
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"user":{"credits":3}}`))
	}))

	_, err := client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)
	_, err = client.Call(context.Background(), "/users/me", CallOptions{SkipCache: true})
	require.NoError(t, err)

	assert.Equal(t, int32(0), tokens.Load(), "skip-cache read must not present the token")
}

func TestCache_SupersededOnFreshFetch(t *testing.T) {
	var version atomic.Int32
	version.Store(1)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := version.Load()
		etag := `"v1"`
		body := `{"user":{"credits":1}}`
		if v == 2 {
			etag = `"v2"`
			body = `{"user":{"credits":2}}`
		}
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		_, _ = w.Write([]byte(body))
	}))

	_, err := client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)

	version.Store(2)
	fresh, err := client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(fresh), `"credits":2`)

	// Token v2 now validates.
	again, err := client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(again), `"credits":2`)
}

func TestRetry_ServerErrorThenSuccess(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := client.Call(context.Background(), "/payment/provider", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRetry_RateLimitedIsRetried(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := client.Call(context.Background(), "/payment/provider", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRetry_ClientErrorsNeverRetried(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity} {
		var hits atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		}))

		_, err := client.Call(context.Background(), "/payment/geo", CallOptions{Method: http.MethodPost, Body: map[string]string{"packageId": "p"}})
		require.Error(t, err)
		assert.Equal(t, int32(1), hits.Load(), "status %d must not be retried", status)
		assert.Equal(t, status, apierror.From(err).Status)
	}
}

func TestTimeout_ClassifiedDistinctly(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))

	start := time.Now()
	_, err := client.Call(context.Background(), "/users/me", CallOptions{Timeout: 30 * time.Millisecond, NoRetry: true})
	require.Error(t, err)
	assert.True(t, apierror.IsTimeout(err), "got %v", err)
	assert.Equal(t, 0, apierror.From(err).Status)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "call aborted at the deadline")
}

func TestHeaderInjection_AuthAndLocale(t *testing.T) {
	var gotAuth, gotLocale string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLocale = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte(`{}`))
	}))

	client.SetAuthToken("tok_123")
	client.SetLocale("es-AR")
	_, err := client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok_123", gotAuth)
	assert.Equal(t, "es-AR", gotLocale)

	client.Clear()
	_, err = client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)
	assert.Empty(t, gotAuth, "auth wiped on Clear")
	assert.Empty(t, gotLocale, "locale wiped on Clear")
}

func TestClear_DropsConditionalCache(t *testing.T) {
	var fullReads atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fullReads.Add(1)
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{}`))
	}))

	_, _ = client.Call(context.Background(), "/users/me", CallOptions{})
	client.Clear()
	_, err := client.Call(context.Background(), "/users/me", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fullReads.Load(), "cache gone after Clear, full read again")
}

func TestInvalidate_ByPrefix(t *testing.T) {
	var fullReads atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fullReads.Add(1)
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{}`))
	}))

	_, _ = client.Call(context.Background(), "/users/me?userId=u1", CallOptions{})
	_, _ = client.Call(context.Background(), "/payment/provider?userId=u1", CallOptions{})
	require.Equal(t, int32(2), fullReads.Load())

	client.Invalidate("/users")

	_, _ = client.Call(context.Background(), "/users/me?userId=u1", CallOptions{})
	assert.Equal(t, int32(3), fullReads.Load(), "user view re-fetched in full")

	_, _ = client.Call(context.Background(), "/payment/provider?userId=u1", CallOptions{})
	assert.Equal(t, int32(3), fullReads.Load(), "unrelated prefix still served via 304")
}

func TestPost_NotDeduped(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.Call(context.Background(), "/payment/geo", CallOptions{Method: http.MethodPost, Body: map[string]string{"packageId": "p"}})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), hits.Load(), "writes are never collapsed")
}

func TestErrorBody_NestedEnvelopeWithDetails(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"validation failed","code":"invalid_input","details":[{"field":"userEmail","message":"must be an email"}]}}`))
	}))

	_, err := client.Call(context.Background(), "/payment/preference", CallOptions{Method: http.MethodPost, Body: map[string]string{}})
	require.Error(t, err)

	ae := apierror.From(err)
	require.NotNil(t, ae)
	assert.True(t, apierror.IsValidation(err))
	assert.Equal(t, "invalid_input", ae.Code)
	require.Len(t, ae.Details, 1)
	assert.Equal(t, "userEmail", ae.Details[0].Field)
}

func TestGetJSON_Decodes(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user":{"id":"u1","credits":9}}`))
	}))

	var out struct {
		User struct {
			ID      string `json:"id"`
			Credits int    `json:"credits"`
		} `json:"user"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "/users/me", &out, CallOptions{}))
	assert.Equal(t, "u1", out.User.ID)
	assert.Equal(t, 9, out.User.Credits)
}
