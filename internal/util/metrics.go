package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations by operation and result",
	}, []string{"op", "result"})

	CartCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_cache_lookups_total",
		Help: "Cart view cache lookups by outcome",
	}, []string{"outcome"})

	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	StockRestoredUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_restored_units_total",
		Help: "Units of stock given back by order cancellations",
	})

	AssistantRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_requests_total",
		Help: "Assistant requests by route (command intent or llm)",
	}, []string{"route"})

	LLMRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_request_latency_seconds",
		Help:    "Latency of generative-language requests",
		Buckets: prometheus.DefBuckets,
	})

	LLMFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_failures_total",
		Help: "Failed generative-language requests",
	}, []string{"reason"})

	CatalogInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_invalidations_total",
		Help: "Catalog cache invalidations triggered by order events",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
