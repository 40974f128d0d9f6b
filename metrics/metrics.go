package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 缓存指标
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mosaic_cache_hits_total",
		Help: "Total number of tile cache hits",
	}, []string{"kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mosaic_cache_misses_total",
		Help: "Total number of tile cache misses",
	}, []string{"kind"})

	CacheStores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mosaic_cache_stores_total",
		Help: "Total number of tile cache store operations",
	}, []string{"kind"})

	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mosaic_cache_errors_total",
		Help: "Total number of cache backend failures treated as misses",
	})

	// 取数指标
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mosaic_fetch_duration_seconds",
		Help:    "Duration of tile fetches through the fallback engine",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"kind", "outcome"})

	FallbackDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mosaic_fallback_depth_levels",
		Help:    "Levels walked up the ancestor chain before a fetch was satisfied",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16, 24},
	})

	ProviderDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mosaic_provider_drops_total",
		Help: "Providers dropped during profile reconciliation",
	})

	// 快照指标
	SnapshotSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mosaic_snapshot_syncs_total",
		Help: "Total number of layer snapshot synchronizations",
	})

	// 预取指标
	SeedTiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mosaic_seed_tiles_total",
		Help: "Tiles processed by the seed tool",
	}, []string{"kind", "outcome"})
)
