package pagination

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// cancelTimer cancels the run on the first wait and never fires.
type cancelTimer struct {
	cancel context.CancelFunc
}

func (c cancelTimer) After(time.Duration) <-chan time.Time {
	c.cancel()
	return make(chan time.Time)
}

func newHeaderServer(t *testing.T, name, value string) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(name, value)
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newRecordingServer(t *testing.T, total int, record func(r *http.Request)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Total-Count", strconv.Itoa(total))
		fmt.Fprint(w, `[{"assetId":1}]`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
