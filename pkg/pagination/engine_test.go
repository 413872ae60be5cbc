package pagination

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/qualys-assetview/internal/testutil"
	"github.com/Sternrassler/qualys-assetview/pkg/checkpoint"
	"github.com/Sternrassler/qualys-assetview/pkg/ratelimit"
	"github.com/Sternrassler/qualys-assetview/pkg/retry"
	"github.com/Sternrassler/qualys-assetview/pkg/session"
	"github.com/Sternrassler/qualys-assetview/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	testDelay = 5 * time.Second
)

func validHandle() session.Handle {
	return session.NewHandle("QualysSession=" + testutil.SessionCookieValue)
}

func newTestEngine(t *testing.T, pageSize, maxRetries int, opts ...Option) (*Engine, *testutil.FakeTimer) {
	t.Helper()

	timer := testutil.NewFakeTimer()
	e, err := NewEngine(transport.NewHTTP(transport.DefaultConfig()), Config{
		PageSize:       pageSize,
		InterPageDelay: testDelay,
		Retry:          retry.Policy{MaxRetries: maxRetries, BaseDelay: time.Second, Timer: timer},
	}, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, timer
}

// pageRequests drops the leading count probe.
func pageRequests(t *testing.T, mock *testutil.MockQualys) []testutil.PageRequest {
	t.Helper()

	reqs := mock.GetRequests()
	if len(reqs) == 0 {
		t.Fatal("no requests recorded")
	}
	if reqs[0].Offset != 0 || reqs[0].Limit != 1 {
		t.Fatalf("first request = offset %d limit %d, want count probe", reqs[0].Offset, reqs[0].Limit)
	}
	return reqs[1:]
}

func offsetsAndLimits(reqs []testutil.PageRequest) ([]int, []int) {
	offsets := make([]int, 0, len(reqs))
	limits := make([]int, 0, len(reqs))
	for _, r := range reqs {
		offsets = append(offsets, r.Offset)
		limits = append(limits, r.Limit)
	}
	return offsets, limits
}

func TestNewEngine_Validation(t *testing.T) {
	tr := transport.NewHTTP(transport.DefaultConfig())

	tests := []struct {
		name    string
		t       transport.Transport
		cfg     Config
		wantErr bool
	}{
		{"nil transport", nil, DefaultConfig(), true},
		{"zero page size", tr, Config{PageSize: 0}, true},
		{"negative delay", tr, Config{PageSize: 10, InterPageDelay: -time.Second}, true},
		{"defaults", tr, DefaultConfig(), false},
		{"count header defaulted", tr, Config{PageSize: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(tt.t, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEngine() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && e.Config().CountHeader != DefaultCountHeader {
				t.Errorf("CountHeader = %q, want %q", e.Config().CountHeader, DefaultCountHeader)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PageSize != 150 {
		t.Errorf("PageSize = %d, want 150", cfg.PageSize)
	}
	if cfg.InterPageDelay != 5*time.Second {
		t.Errorf("InterPageDelay = %v, want 5s", cfg.InterPageDelay)
	}
	if cfg.CountHeader != "Total-Count" {
		t.Errorf("CountHeader = %q, want Total-Count", cfg.CountHeader)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("Retry.MaxRetries = %d, want 5", cfg.Retry.MaxRetries)
	}
}

func TestDefaultParams(t *testing.T) {
	params := DefaultParams(Query{Filter: "a:b", Having: "c:d"}, 300, 20)
	if params.Get("offset") != "300" || params.Get("limit") != "20" {
		t.Errorf("params = %v", params)
	}
	if params.Get("query") != "a:b" || params.Get("havingQuery") != "c:d" {
		t.Errorf("params = %v", params)
	}

	bare := DefaultParams(Query{}, 0, 1)
	if bare.Has("query") || bare.Has("havingQuery") {
		t.Errorf("empty query should omit filters: %v", bare)
	}
}

func TestProbeCount(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()

	e, _ := newTestEngine(t, 150, 5)
	total, err := e.ProbeCount(context.Background(), validHandle(), mock.AssetsURL(), Query{Filter: "x"})
	if err != nil {
		t.Fatalf("ProbeCount: %v", err)
	}
	if total != 320 {
		t.Errorf("total = %d, want 320", total)
	}

	reqs := mock.GetRequests()
	if len(reqs) != 1 || reqs[0].Limit != 1 || reqs[0].Offset != 0 {
		t.Errorf("requests = %+v, want a single limit=1 offset=0 probe", reqs)
	}
	if reqs[0].Cookie != validHandle().Cookie() {
		t.Errorf("Cookie = %q, want session cookie", reqs[0].Cookie)
	}
}

func TestProbeCount_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(m *testutil.MockQualys)
		handle session.Handle
	}{
		{
			name:   "missing header",
			setup:  func(m *testutil.MockQualys) { m.OmitCountHeader() },
			handle: validHandle(),
		},
		{
			name:   "header under another name",
			setup:  func(m *testutil.MockQualys) { m.SetCountHeader("X-Total") },
			handle: validHandle(),
		},
		{
			name:   "error status",
			setup:  func(m *testutil.MockQualys) {},
			handle: session.NewHandle("QualysSession=expired"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockQualys(320)
			defer mock.Close()
			tt.setup(mock)

			e, timer := newTestEngine(t, 150, 5)
			pages, err := e.FetchAll(context.Background(), tt.handle, mock.AssetsURL(), Query{})
			if !errors.Is(err, ErrCountUnavailable) {
				t.Fatalf("error = %v, want ErrCountUnavailable", err)
			}
			if pages != nil {
				t.Errorf("pages = %v, want nil", pages)
			}
			if got := mock.GetRequestCount(); got != 1 {
				t.Errorf("requests = %d, want 1 (probe is not retried)", got)
			}
			if len(timer.Waits()) != 0 {
				t.Errorf("waits = %v, want none", timer.Waits())
			}
		})
	}
}

func TestProbeCount_NonNumericHeader(t *testing.T) {
	srv := newHeaderServer(t, "Total-Count", "many")
	e, _ := newTestEngine(t, 150, 5)

	_, err := e.ProbeCount(context.Background(), validHandle(), srv, Query{})
	if !errors.Is(err, ErrCountUnavailable) {
		t.Errorf("error = %v, want ErrCountUnavailable", err)
	}
}

func TestProbeCount_TransportError(t *testing.T) {
	e, _ := newTestEngine(t, 150, 5)

	_, err := e.ProbeCount(context.Background(), validHandle(), "http://127.0.0.1:1/assets", Query{})
	if !errors.Is(err, ErrCountUnavailable) {
		t.Errorf("error = %v, want ErrCountUnavailable", err)
	}
}

func TestFetchAll_PageSequence(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		pageSize    int
		wantOffsets []int
		wantLimits  []int
	}{
		{"partial last page", 320, 150, []int{0, 150, 300}, []int{150, 150, 20}},
		{"exact multiple", 300, 150, []int{0, 150}, []int{150, 150}},
		{"smaller than page", 42, 150, []int{0}, []int{42}},
		{"page size one", 3, 1, []int{0, 1, 2}, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockQualys(tt.total)
			defer mock.Close()

			e, timer := newTestEngine(t, tt.pageSize, 5)
			pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})
			if err != nil {
				t.Fatalf("FetchAll: %v", err)
			}
			if len(pages) != len(tt.wantOffsets) {
				t.Fatalf("pages = %d, want %d", len(pages), len(tt.wantOffsets))
			}

			offsets, limits := offsetsAndLimits(pageRequests(t, mock))
			if !reflect.DeepEqual(offsets, tt.wantOffsets) {
				t.Errorf("offsets = %v, want %v", offsets, tt.wantOffsets)
			}
			if !reflect.DeepEqual(limits, tt.wantLimits) {
				t.Errorf("limits = %v, want %v", limits, tt.wantLimits)
			}

			// one inter-page delay per page, the last one included
			waits := timer.Waits()
			if len(waits) != len(tt.wantOffsets) {
				t.Errorf("waits = %v, want %d delays", waits, len(tt.wantOffsets))
			}
			for _, w := range waits {
				if w != testDelay {
					t.Errorf("wait = %v, want %v", w, testDelay)
				}
			}

			records := 0
			for _, p := range pages {
				records += len(gjson.ParseBytes(p).Array())
			}
			if records != tt.total {
				t.Errorf("records = %d, want %d", records, tt.total)
			}
		})
	}
}

func TestFetchAll_PagesInOffsetOrder(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()

	e, _ := newTestEngine(t, 150, 5)
	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	for i, want := range []int64{1000, 1150, 1300} {
		if got := gjson.GetBytes(pages[i], "0.assetId").Int(); got != want {
			t.Errorf("page %d first assetId = %d, want %d", i, got, want)
		}
	}
}

func TestFetchAll_ZeroTotal(t *testing.T) {
	mock := testutil.NewMockQualys(0)
	defer mock.Close()

	e, timer := newTestEngine(t, 150, 5)
	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if pages == nil || len(pages) != 0 {
		t.Errorf("pages = %v, want empty non-nil slice", pages)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("requests = %d, want only the probe", got)
	}
	if len(timer.Waits()) != 0 {
		t.Errorf("waits = %v, want none", timer.Waits())
	}
}

func TestFetchAll_QueryAndCookieOnEveryRequest(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()

	e, _ := newTestEngine(t, 150, 5)
	q := Query{Filter: `operatingSystem:"CentOS 7"`, Having: `tags.name:"Cloud Agent"`}
	if _, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), q); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	for _, r := range mock.GetRequests() {
		if r.Query != q.Filter || r.Having != q.Having {
			t.Errorf("request %d: query=%q having=%q", r.Offset, r.Query, r.Having)
		}
		if r.Cookie != validHandle().Cookie() {
			t.Errorf("request %d: cookie = %q", r.Offset, r.Cookie)
		}
	}
}

func TestFetchAll_RetryRecovers(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()
	mock.FailPage(150, 2)

	e, timer := newTestEngine(t, 150, 5)
	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(pages) != 3 {
		t.Errorf("pages = %d, want 3", len(pages))
	}

	offsets, _ := offsetsAndLimits(pageRequests(t, mock))
	if want := []int{0, 150, 150, 150, 300}; !reflect.DeepEqual(offsets, want) {
		t.Errorf("offsets = %v, want %v", offsets, want)
	}

	want := []time.Duration{testDelay, 1 * time.Second, 2 * time.Second, testDelay, testDelay}
	if got := timer.Waits(); !reflect.DeepEqual(got, want) {
		t.Errorf("waits = %v, want %v", got, want)
	}
}

func TestFetchAll_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()
	mock.FailPage(150, 100)

	e, timer := newTestEngine(t, 150, 3)
	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})

	if !errors.Is(err, ErrPageRetrievalFailed) {
		t.Fatalf("error = %v, want ErrPageRetrievalFailed", err)
	}
	if !errors.Is(err, retry.ErrRetryExhausted) {
		t.Errorf("error = %v, should wrap ErrRetryExhausted", err)
	}

	var pageErr *PageRetrievalError
	if !errors.As(err, &pageErr) {
		t.Fatalf("error type = %T, want *PageRetrievalError", err)
	}
	if pageErr.Offset != 150 || pageErr.Fetched != 1 || pageErr.Total != 320 {
		t.Errorf("PageRetrievalError = %+v", pageErr)
	}

	var statusErr *PageStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("cause = %v, want HTTP 500 PageStatusError", err)
	}

	if len(pages) != 1 {
		t.Errorf("partial pages = %d, want 1", len(pages))
	}

	offsets, _ := offsetsAndLimits(pageRequests(t, mock))
	if want := []int{0, 150, 150, 150, 150}; !reflect.DeepEqual(offsets, want) {
		t.Errorf("offsets = %v, want %v (offset 300 must never be requested)", offsets, want)
	}

	want := []time.Duration{testDelay, 1 * time.Second, 2 * time.Second, 4 * time.Second}
	if got := timer.Waits(); !reflect.DeepEqual(got, want) {
		t.Errorf("waits = %v, want %v", got, want)
	}
}

func TestFetchAll_FirstPageFailure(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()
	mock.FailPage(0, 100)

	e, _ := newTestEngine(t, 150, 0)
	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})

	var pageErr *PageRetrievalError
	if !errors.As(err, &pageErr) || pageErr.Offset != 0 {
		t.Fatalf("error = %v, want PageRetrievalError at offset 0", err)
	}
	if len(pages) != 0 {
		t.Errorf("pages = %d, want 0", len(pages))
	}
}

func TestFetchAll_MalformedBodyRetried(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()
	mock.MalformedPage(300)

	e, _ := newTestEngine(t, 150, 2)
	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})

	var pageErr *PageRetrievalError
	if !errors.As(err, &pageErr) || pageErr.Offset != 300 {
		t.Fatalf("error = %v, want PageRetrievalError at offset 300", err)
	}
	if len(pages) != 2 {
		t.Errorf("pages = %d, want 2", len(pages))
	}

	attempts := 0
	for _, r := range pageRequests(t, mock) {
		if r.Offset == 300 {
			attempts++
		}
	}
	if attempts != 3 {
		t.Errorf("attempts at offset 300 = %d, want 3", attempts)
	}
}

func TestFetchAll_RecordSetShrank(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()
	mock.ShrinkAt(300)

	e, _ := newTestEngine(t, 150, 5)
	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("pages = %d, want 2 (truncated)", len(pages))
	}
	if got := len(pageRequests(t, mock)); got != 3 {
		t.Errorf("page requests = %d, want 3", got)
	}
}

func TestFetchAll_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()
	mock.FailPage(150, 100)

	ctx, cancel := context.WithCancel(context.Background())
	e, err := NewEngine(transport.NewHTTP(transport.DefaultConfig()), Config{
		PageSize:       150,
		InterPageDelay: 0,
		Retry: retry.Policy{
			MaxRetries: 5,
			BaseDelay:  time.Hour,
			Timer:      cancelTimer{cancel: cancel},
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	pages, err := e.FetchAll(ctx, validHandle(), mock.AssetsURL(), Query{})
	if !errors.Is(err, retry.ErrContextCancelled) {
		t.Fatalf("error = %v, want ErrContextCancelled", err)
	}
	if errors.Is(err, ErrPageRetrievalFailed) {
		t.Error("cancellation should not be reported as a page failure")
	}
	if len(pages) != 1 {
		t.Errorf("pages = %d, want 1", len(pages))
	}
}

func TestFetchAll_CustomCountHeader(t *testing.T) {
	mock := testutil.NewMockQualys(20)
	defer mock.Close()
	mock.SetCountHeader("X-Total-Count")

	timer := testutil.NewFakeTimer()
	e, err := NewEngine(transport.NewHTTP(transport.DefaultConfig()), Config{
		PageSize:    10,
		CountHeader: "X-Total-Count",
		Retry:       retry.Policy{Timer: timer},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(pages) != 2 {
		t.Errorf("pages = %d, want 2", len(pages))
	}
}

func TestFetchAll_TracksRateLimit(t *testing.T) {
	mock := testutil.NewMockQualys(10)
	defer mock.Close()

	tracker := ratelimit.NewTracker(zerolog.Nop())
	e, _ := newTestEngine(t, 150, 5, WithTracker(tracker))

	if _, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{}); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	state := tracker.GetState()
	if state == nil {
		t.Fatal("tracker state not updated")
	}
	if state.Remaining != 250 {
		t.Errorf("Remaining = %d, want 250", state.Remaining)
	}
}

func TestFetchAll_ExtraHeader(t *testing.T) {
	var (
		mu     sync.Mutex
		accept []string
	)
	srv := newRecordingServer(t, 3, func(r *http.Request) {
		mu.Lock()
		accept = append(accept, r.Header.Get("Accept"))
		mu.Unlock()
	})

	e, _ := newTestEngine(t, 150, 5, WithHeader(http.Header{"Accept": {"*/*"}}))
	if _, err := e.FetchAll(context.Background(), validHandle(), srv, Query{}); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, a := range accept {
		if a != "*/*" {
			t.Errorf("Accept = %q, want */*", a)
		}
	}
}

// memStore is an in-memory PageStore.
type memStore struct {
	mu      sync.Mutex
	pages   map[string][]byte
	cleared int
	failGet bool
	failSet bool
}

func newMemStore() *memStore {
	return &memStore{pages: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key checkpoint.PageKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errors.New("store unavailable")
	}
	data, ok := s.pages[key.String()]
	if !ok {
		return nil, checkpoint.ErrMiss
	}
	return data, nil
}

func (s *memStore) Set(_ context.Context, key checkpoint.PageKey, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errors.New("store unavailable")
	}
	s.pages[key.String()] = payload
	return nil
}

func (s *memStore) Clear(_ context.Context, key checkpoint.PageKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	n := len(s.pages)
	s.pages = make(map[string][]byte)
	return n, nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

func TestFetchAll_ResumesFromCheckpoints(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()
	mock.FailPage(300, 100)

	store := newMemStore()
	e, _ := newTestEngine(t, 150, 1, WithStore(store))

	// first run fails at the last page and leaves two checkpoints behind
	_, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{Filter: "f"})
	if !errors.Is(err, ErrPageRetrievalFailed) {
		t.Fatalf("first run error = %v, want ErrPageRetrievalFailed", err)
	}
	if store.len() != 2 {
		t.Fatalf("checkpoints = %d, want 2", store.len())
	}

	mock.FailPage(300, 0)
	before := mock.GetRequestCount()

	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{Filter: "f"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(pages) != 3 {
		t.Errorf("pages = %d, want 3", len(pages))
	}

	rerun := mock.GetRequests()[before:]
	offsets, _ := offsetsAndLimits(rerun)
	if want := []int{0, 300}; !reflect.DeepEqual(offsets, want) {
		t.Errorf("rerun requests offsets = %v, want probe + offset 300 only", offsets)
	}
	if rerun[0].Limit != 1 {
		t.Errorf("first rerun request limit = %d, want probe", rerun[0].Limit)
	}

	if store.cleared != 1 || store.len() != 0 {
		t.Errorf("checkpoints not cleared after success: cleared=%d left=%d", store.cleared, store.len())
	}
}

func TestFetchAll_CheckpointErrorsIgnored(t *testing.T) {
	mock := testutil.NewMockQualys(320)
	defer mock.Close()

	store := newMemStore()
	store.failGet = true
	store.failSet = true

	e, _ := newTestEngine(t, 150, 5, WithStore(store))
	pages, err := e.FetchAll(context.Background(), validHandle(), mock.AssetsURL(), Query{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(pages) != 3 {
		t.Errorf("pages = %d, want 3", len(pages))
	}
}

func TestPageRetrievalError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&PageRetrievalError{Offset: 150, Fetched: 1, Total: 320, Err: cause})

	if !errors.Is(err, ErrPageRetrievalFailed) {
		t.Error("should match ErrPageRetrievalFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("should match cause")
	}
	want := "page retrieval failed at offset 150 (1 pages fetched, total 320): boom"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
