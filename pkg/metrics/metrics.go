// Package metrics exposes the platform's Prometheus collectors on the
// operator-only metrics listener, separate from the public API address.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeadLetterJobsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dead_letter_jobs_total",
		Help: "Number of jobs currently parked in the dead letter table.",
	})

	DepositsScannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposits_scanned_total",
		Help: "Deposit-matching log entries observed per chain.",
	}, []string{"chain"})

	StakeAccrualRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stake_accrual_runs_total",
		Help: "Completed reward accrual sweep runs.",
	})

	PayoutBroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_broadcasts_total",
		Help: "Treasury payout broadcasts, partitioned by outcome.",
	}, []string{"chain", "outcome"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served, partitioned by route and status class.",
	}, []string{"route", "status_class"})
)
