// Package gtosmetrics is the optional observability sink named in
// SPEC_FULL.md's domain stack: it mirrors callback/invocation outcomes
// and ledger activity into InfluxDB, using the same
// influxdata/influxdb-client-go/v2 client the teacher's go.mod already
// carries for its own operational metrics.
package gtosmetrics

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/tos-network/gtos-faas/log"
)

// Sink writes points to one InfluxDB bucket. A nil Sink is valid and
// every method becomes a no-op, so wiring it is optional per deployment.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      log.Logger
}

// NewSink connects to an InfluxDB server, or returns nil if serverURL is
// empty. Every method is nil-receiver safe, so a deployment without
// metrics configured can pass a nil *Sink through unconditionally.
func NewSink(serverURL, authToken, org, bucket string) *Sink {
	if serverURL == "" {
		return nil
	}
	client := influxdb2.NewClient(serverURL, authToken)
	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      log.New("component", "gtosmetrics"),
	}
}

// Close flushes and releases the underlying client.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.client.Close()
}

// RecordInvocation writes one sandbox invocation outcome as a point in
// the "invocations" measurement.
func (s *Sink) RecordInvocation(ctx context.Context, functionID, principal, status string, executionMs int64, memoryPeakMB float64, gasCharged uint64) {
	if s == nil {
		return
	}
	p := influxdb2.NewPoint(
		"invocations",
		map[string]string{"function_id": functionID, "principal": principal, "status": status},
		map[string]interface{}{
			"execution_ms":   executionMs,
			"memory_peak_mb": memoryPeakMB,
			"gas_charged":    gasCharged,
		},
		time.Now(),
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Warn("influx write failed", "err", err)
	}
}

// RecordLedgerEntry writes one gas-bank ledger mutation as a point in
// the "ledger" measurement.
func (s *Sink) RecordLedgerEntry(ctx context.Context, principal, entryType string, amount, fee uint64) {
	if s == nil {
		return
	}
	p := influxdb2.NewPoint(
		"ledger",
		map[string]string{"principal": principal, "type": entryType},
		map[string]interface{}{"amount": amount, "fee": fee},
		time.Now(),
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Warn("influx write failed", "err", err)
	}
}

// RecordMetaTx writes one meta-tx terminal status as a point in the
// "meta_tx" measurement.
func (s *Sink) RecordMetaTx(ctx context.Context, sender, status, reason string) {
	if s == nil {
		return
	}
	p := influxdb2.NewPoint(
		"meta_tx",
		map[string]string{"sender": sender, "status": status, "reason": reason},
		map[string]interface{}{"count": 1},
		time.Now(),
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Warn("influx write failed", "err", err)
	}
}
