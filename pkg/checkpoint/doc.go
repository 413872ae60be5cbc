// Package checkpoint stores completed AssetView pages in Redis so that a run
// which failed part way can be restarted without requesting the pages it
// already has.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := checkpoint.NewManager(redisClient, time.Hour)
//
//	key := checkpoint.PageKey{
//		Endpoint: "https://qualysguard.qualys.com/portal-front/rest/assetview/1.0/assets",
//		Filter:   `operatingSystem:"CentOS 7"`,
//		Total:    320,
//		PageSize: 150,
//		Offset:   150,
//	}
//
//	data, err := manager.Get(ctx, key)
//	if errors.Is(err, checkpoint.ErrMiss) {
//		// fetch the page, then manager.Set(ctx, key, data)
//	}
//
// # Key Layout
//
// Keys embed the total count captured by the probe and the page size, so a
// run that sees a different total never picks up pages from an older result
// set:
//
//	assetview:checkpoint:<query hash>:total=320:size=150:offset=150
//
// Once a run completes, Clear removes every offset of its query.
//
// # Metrics
//
//   - assetview_checkpoint_hits_total - pages served from a checkpoint
//   - assetview_checkpoint_misses_total - pages not found
//   - assetview_checkpoint_size_bytes - bytes written by Set
//   - assetview_checkpoint_errors_total{operation} - Redis errors
package checkpoint
