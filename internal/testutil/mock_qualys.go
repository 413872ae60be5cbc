// Package testutil provides testing utilities for the AssetView client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// Paths served by MockQualys.
const (
	AuthPath   = "/api/2.0/fo/session/"
	AssetsPath = "/portal-front/rest/assetview/1.0/assets"
)

// SessionCookieValue is the session cookie value handed out on login.
const SessionCookieValue = "mock-session-123"

// PageRequest records one AssetView request.
type PageRequest struct {
	Offset int
	Limit  int
	Query  string
	Having string
	Fields string
	Cookie string
}

// MockQualys is a configurable mock of the auth and AssetView endpoints.
type MockQualys struct {
	server *httptest.Server
	mu     sync.Mutex

	loginStatuses  []int
	logoutStatuses []int
	omitCookie     bool

	total        int
	countHeader  string
	omitCount    bool
	pageFailures map[int]int
	failStatus   int
	malformed    map[int]bool
	emptyFrom    int
	assetFunc    func(index int) map[string]any

	// Tracking
	LoginCount  int
	LogoutCount int
	Requests    []PageRequest
}

// NewMockQualys creates a mock server with total assets available.
func NewMockQualys(total int) *MockQualys {
	mock := &MockQualys{
		total:        total,
		countHeader:  "Total-Count",
		pageFailures: make(map[int]int),
		malformed:    make(map[int]bool),
		failStatus:   http.StatusInternalServerError,
		emptyFrom:    -1,
		assetFunc:    DefaultAsset,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(AuthPath, mock.handleAuth)
	mux.HandleFunc(AssetsPath, mock.handleAssets)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server URL.
func (m *MockQualys) URL() string {
	return m.server.URL
}

// AuthURL returns the login/logout endpoint URL.
func (m *MockQualys) AuthURL() string {
	return m.server.URL + AuthPath
}

// AssetsURL returns the AssetView endpoint URL.
func (m *MockQualys) AssetsURL() string {
	return m.server.URL + AssetsPath
}

// Close shuts down the mock server.
func (m *MockQualys) Close() {
	m.server.Close()
}

// SetLoginStatuses queues status codes for successive logins. The last
// code repeats once the queue is drained.
func (m *MockQualys) SetLoginStatuses(codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginStatuses = codes
}

// SetLogoutStatuses queues status codes for successive logouts.
func (m *MockQualys) SetLogoutStatuses(codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutStatuses = codes
}

// OmitSessionCookie makes successful logins return no session cookie.
func (m *MockQualys) OmitSessionCookie() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitCookie = true
}

// OmitCountHeader drops the count header from AssetView responses.
func (m *MockQualys) OmitCountHeader() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitCount = true
}

// SetCountHeader overrides the raw count header value name.
func (m *MockQualys) SetCountHeader(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countHeader = name
}

// FailPage makes the next n page requests for offset fail with the failure
// status. The count probe (offset 0, limit 1) is never failed.
func (m *MockQualys) FailPage(offset, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageFailures[offset] = n
}

// SetFailStatus sets the status used by FailPage.
func (m *MockQualys) SetFailStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
}

// MalformedPage makes every request for offset return a non-JSON body.
func (m *MockQualys) MalformedPage(offset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed[offset] = true
}

// ShrinkAt makes every page at or beyond offset come back empty while the
// count header still reports the original total.
func (m *MockQualys) ShrinkAt(offset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emptyFrom = offset
}

// SetAssetFunc overrides how assets are generated.
func (m *MockQualys) SetAssetFunc(fn func(index int) map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assetFunc = fn
}

// GetRequests returns a snapshot of the recorded AssetView requests, count
// probes included.
func (m *MockQualys) GetRequests() []PageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PageRequest, len(m.Requests))
	copy(out, m.Requests)
	return out
}

// GetLoginCount returns the number of login calls.
func (m *MockQualys) GetLoginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LoginCount
}

// GetLogoutCount returns the number of logout calls.
func (m *MockQualys) GetLogoutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LogoutCount
}

// GetRequestCount returns the number of AssetView calls, probes included.
func (m *MockQualys) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func nextStatus(queue *[]int, count int) int {
	if len(*queue) == 0 {
		return http.StatusOK
	}
	if count-1 < len(*queue) {
		return (*queue)[count-1]
	}
	return (*queue)[len(*queue)-1]
}

func (m *MockQualys) handleAuth(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	action := r.PostForm.Get("action")
	var status int
	switch action {
	case "login":
		m.LoginCount++
		status = nextStatus(&m.loginStatuses, m.LoginCount)
	case "logout":
		m.LogoutCount++
		status = nextStatus(&m.logoutStatuses, m.LogoutCount)
	default:
		status = http.StatusBadRequest
	}
	omitCookie := m.omitCookie
	m.mu.Unlock()

	if action == "login" && status == http.StatusOK && !omitCookie {
		http.SetCookie(w, &http.Cookie{Name: "DWRSESSIONID", Value: "unrelated"})
		http.SetCookie(w, &http.Cookie{Name: "QualysSession", Value: SessionCookieValue})
	}
	w.WriteHeader(status)
}

func (m *MockQualys) handleAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	m.mu.Lock()
	m.Requests = append(m.Requests, PageRequest{
		Offset: offset,
		Limit:  limit,
		Query:  q.Get("query"),
		Having: q.Get("havingQuery"),
		Fields: q.Get("fields"),
		Cookie: r.Header.Get("Cookie"),
	})

	failing := !(offset == 0 && limit == 1)
	if failing && m.pageFailures[offset] > 0 {
		m.pageFailures[offset]--
		status := m.failStatus
		m.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":"injected failure"}`)
		return
	}

	malformed := failing && m.malformed[offset]
	total := m.total
	countHeader := m.countHeader
	omitCount := m.omitCount
	emptyFrom := m.emptyFrom
	assetFunc := m.assetFunc
	m.mu.Unlock()

	if r.Header.Get("Cookie") != "QualysSession="+SessionCookieValue {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if !omitCount {
		w.Header().Set(countHeader, strconv.Itoa(total))
	}
	w.Header().Set("X-RateLimit-Remaining", "250")
	w.Header().Set("Content-Type", "application/json")

	if malformed {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `<html>gateway timeout</html>`)
		return
	}

	assets := make([]map[string]any, 0, limit)
	if emptyFrom < 0 || offset < emptyFrom {
		for i := offset; i < offset+limit && i < total; i++ {
			assets = append(assets, assetFunc(i))
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(assets)
}

// DefaultAsset builds a realistic AssetView asset for index.
func DefaultAsset(index int) map[string]any {
	tags := []map[string]any{{"name": "Cloud Agent"}}
	if index%2 == 0 {
		tags = append(tags, map[string]any{"name": "[EXTERNAL]"})
	}

	return map[string]any{
		"assetId": 1000 + index,
		"name":    fmt.Sprintf("host-%d", index),
		"host": map[string]any{
			"qgHostId":    fmt.Sprintf("qg-%d", index),
			"netbiosName": fmt.Sprintf("HOST%d", index),
			"address":     fmt.Sprintf("/10.0.%d.%d", index/256, index%256),
			"os": map[string]any{
				"category1": "Windows",
				"category2": "Server",
				"name":      "Windows Server 2012 R2",
				"version":   "-",
			},
		},
		"updatedAt": "2024-03-05T10:11:12.345Z",
		"tags":      tags,
	}
}
