// Package pagination retrieves a complete record set from an offset/limit
// paginated endpoint.
//
// The engine first probes the endpoint with limit=1 to read the total count
// from a response header (Total-Count by default), then walks the set in
// page-size increments. Every page is requested under the retry policy and
// followed by a fixed inter-page delay so the remote API is not flooded.
//
// Example usage:
//
//	engine, err := pagination.NewEngine(httpTransport, pagination.Config{
//		PageSize:       150,
//		InterPageDelay: 5 * time.Second,
//		Retry:          retry.DefaultPolicy(),
//	})
//	pages, err := engine.FetchAll(ctx, handle, assetsURL, pagination.Query{
//		Filter: `operatingSystem:"CentOS 7"`,
//	})
//
// For a total of 320 and a page size of 150 the engine requests
// offset=0/limit=150, offset=150/limit=150 and offset=300/limit=20.
//
// The engine:
//   - Never requests an offset twice, except as a retry of the same page
//   - Returns an empty result without further requests when the total is 0
//   - Returns the pages fetched so far together with a *PageRetrievalError
//     when a page exhausts its retries
//   - Stops early with a warning when a page inside the probed range comes
//     back empty (the record set shrank after the probe)
//   - Optionally stores pages in a PageStore and reuses them on a rerun
package pagination
