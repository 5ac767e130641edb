// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agora-forum/agora/internal/auth"
)

// Metrics contains the custom Prometheus metrics for Agora. It implements
// auth.Recorder.
type Metrics struct {
	SessionsIssued   *prometheus.CounterVec
	RefreshRotations *prometheus.CounterVec
	ReuseDetections  prometheus.Counter
	SigninFailures   prometheus.Counter
	GuardRejections  *prometheus.CounterVec
	ExpiredSweeps    *prometheus.CounterVec
	ExpiredRevoked   prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
}

var _ auth.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers the Agora metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_sessions_issued_total",
				Help: "Total number of sessions issued by channel",
			},
			[]string{"via"},
		),
		RefreshRotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_refresh_rotations_total",
				Help: "Total number of refresh token rotations by result",
			},
			[]string{"result"},
		),
		ReuseDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agora_refresh_reuse_detected_total",
			Help: "Total number of refresh tokens presented with a mismatched subject",
		}),
		SigninFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agora_signin_failures_total",
			Help: "Total number of failed credential signins",
		}),
		GuardRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_guard_rejections_total",
				Help: "Total number of requests rejected by guard",
			},
			[]string{"guard"},
		),
		ExpiredSweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_expired_sweeps_total",
				Help: "Total number of expired refresh token sweeps by result",
			},
			[]string{"result"},
		),
		ExpiredRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agora_expired_tokens_revoked_total",
			Help: "Total number of expired refresh tokens revoked by sweeps",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agora_http_requests_total",
				Help: "Total number of API requests by route and status",
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(
		m.SessionsIssued,
		m.RefreshRotations,
		m.ReuseDetections,
		m.SigninFailures,
		m.GuardRejections,
		m.ExpiredSweeps,
		m.ExpiredRevoked,
		m.HTTPRequests,
	)
	return m
}

// SessionIssued implements auth.Recorder.
func (m *Metrics) SessionIssued(via string) {
	m.SessionsIssued.WithLabelValues(via).Inc()
}

// RefreshRotated implements auth.Recorder.
func (m *Metrics) RefreshRotated(result string) {
	m.RefreshRotations.WithLabelValues(result).Inc()
}

// ReuseDetected implements auth.Recorder.
func (m *Metrics) ReuseDetected() {
	m.ReuseDetections.Inc()
}

// SigninFailed implements auth.Recorder.
func (m *Metrics) SigninFailed() {
	m.SigninFailures.Inc()
}

// GuardRejected implements auth.Recorder.
func (m *Metrics) GuardRejected(guard string) {
	m.GuardRejections.WithLabelValues(guard).Inc()
}

// ExpiredSwept implements auth.Recorder.
func (m *Metrics) ExpiredSwept(result string, count int64) {
	m.ExpiredSweeps.WithLabelValues(result).Inc()
	if count > 0 {
		m.ExpiredRevoked.Add(float64(count))
	}
}

// RequestServed counts an API request. route is the registered pattern, not
// the raw path, to bound cardinality.
func (m *Metrics) RequestServed(route string, status int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
