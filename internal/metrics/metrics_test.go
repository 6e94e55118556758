package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordQRCodeTransition(t *testing.T) {
	before := testutil.ToFloat64(QRCodeTransitions.WithLabelValues("expired", "sweep"))
	RecordQRCodeTransition("expired", "sweep", 3)
	after := testutil.ToFloat64(QRCodeTransitions.WithLabelValues("expired", "sweep"))
	if after-before != 3 {
		t.Errorf("delta = %v, want 3", after-before)
	}
}

func TestRecordRedeemDuration(t *testing.T) {
	RecordRedeemDuration("success", 0.002)
	if n := testutil.CollectAndCount(RedeemDuration, "logu_qrcode_redeem_duration_seconds"); n == 0 {
		t.Error("expected at least one redeem duration series")
	}
}
