// Package metrics holds the Prometheus collectors of the blog-api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GraphQLOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blog_graphql_operations_total",
			Help: "Total number of GraphQL operations executed",
		},
		[]string{"transport", "outcome"},
	)

	GraphQLDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blog_graphql_duration_seconds",
			Help:    "Time taken to execute GraphQL operations over HTTP",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blog_graphql_active_subscriptions",
			Help: "Number of subscriptions currently streaming",
		},
	)

	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blog_pubsub_messages_published_total",
			Help: "Total number of messages published on the event bus",
		},
		[]string{"driver"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blog_http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
