package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedeemDuration tracks the latency of verify-and-redeem calls
	RedeemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "logu_qrcode_redeem_duration_seconds",
			Help: "Duration of QR code verify-and-redeem requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
			},
		},
		[]string{"outcome"}, // success, already_redeemed, expired, ...
	)

	// QRCodesIssued counts issued codes by whether the caller supplied the token
	QRCodesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logu_qrcodes_issued_total",
			Help: "Total number of QR codes issued",
		},
		[]string{"source"}, // supplied or generated
	)

	// CodeCollisions counts generated tokens that were already taken
	CodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logu_qrcode_generation_collisions_total",
			Help: "Total number of generated QR code tokens discarded because they already existed",
		},
	)

	// QRCodeTransitions counts QR code status changes by destination status
	QRCodeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logu_qrcode_transitions_total",
			Help: "Total number of QR code status transitions",
		},
		[]string{"to", "trigger"},
	)

	// ApplicationTransitions counts application status writes
	ApplicationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logu_application_transitions_total",
			Help: "Total number of campaign application status changes",
		},
		[]string{"from", "to"},
	)

	// RedeemRateLimited counts scans rejected before reaching the engine
	RedeemRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logu_redeem_rate_limited_total",
			Help: "Total number of verify-and-redeem calls rejected by the per-terminal rate limiter",
		},
	)
)

// RecordRedeemDuration records the duration of a verify-and-redeem request
func RecordRedeemDuration(outcome string, duration float64) {
	RedeemDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordQRCodeTransition records a status change and what caused it
// (redeem, read, sweep, revoke).
func RecordQRCodeTransition(to, trigger string, n int) {
	QRCodeTransitions.WithLabelValues(to, trigger).Add(float64(n))
}
