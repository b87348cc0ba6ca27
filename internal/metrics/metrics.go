// Package metrics exposes prometheus counters for the scan pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ScansTotal counts submissions by outcome: accepted, duplicate,
// malformed, failed.
var ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkin_scans_total",
	Help: "Scan submissions by outcome.",
}, []string{"outcome"})

// DecodeFailures counts images where no QR code was found.
var DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "checkin_decode_failures_total",
	Help: "Uploaded images with no decodable QR code.",
})

// CommitConflicts counts ledger commits refused for a stale version token.
var CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "checkin_ledger_commit_conflicts_total",
	Help: "Ledger commits refused due to concurrent updates.",
})
