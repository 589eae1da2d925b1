package smartpass

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://api.smartpass.test"

type fakeRecorder struct {
	mu       sync.Mutex
	requests []string
	statuses []int
	checks   map[string][]bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{checks: map[string][]bool{}}
}

func (f *fakeRecorder) RecordRequest(name string, status int, _ time.Duration, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, name)
	f.statuses = append(f.statuses, status)
}

func (f *fakeRecorder) Check(name string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks[name] = append(f.checks[name], ok)
}

func (f *fakeRecorder) checkPassed(t *testing.T, name string) bool {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	results, ok := f.checks[name]
	require.True(t, ok, "check %q was not recorded", name)
	require.NotEmpty(t, results)
	return results[len(results)-1]
}

// newTestClient returns a client whose transport is intercepted by gock.
func newTestClient(t *testing.T) (*Client, *fakeRecorder) {
	t.Helper()

	hc := &http.Client{}
	gock.InterceptClient(hc)
	t.Cleanup(func() {
		gock.RestoreClient(hc)
		gock.Off()
	})

	rec := newFakeRecorder()
	c := NewClient(testBaseURL+"/", BasicAuthHeaders("loadtest", "secret"),
		WithHTTPClient(hc),
		WithRecorder(rec),
	)
	return c, rec
}
