package audit

import (
	"testing"
	"time"

	"github.com/nalim-labs/dbusd/internal/config"
)

func TestConnectReturnsNilSinkWhenAuditDisabled(t *testing.T) {
	var cfg config.Config
	cfg.Audit.Enabled = false

	sink, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect with auditing disabled returned an error: %v", err)
	}
	if sink != nil {
		t.Fatalf("Connect with auditing disabled returned a non-nil sink: %v", sink)
	}
}

// A nil *Sink is what every broker.Server carries by default (no [audit]
// section configured); every method must be safe to call unconditionally.
func TestNilSinkMethodsAreNoOps(t *testing.T) {
	var sink *Sink

	sink.RecordNameOwnerChanged("com.example.S", ":1.0", ":1.1", time.Now())
	sink.RecordSessionConnected(":1.0", "1", time.Now())
	sink.RecordSessionDisconnected(":1.0", "1", time.Now())

	if err := sink.Invoke(nil); err != nil { //nolint:staticcheck // nil context is fine for a no-op
		t.Fatalf("Invoke on a nil sink returned an error: %v", err)
	}
}
