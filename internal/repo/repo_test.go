package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Armada/internal/domain"
)

func TestBuildEventQuery_NoFilter(t *testing.T) {
	sql, args, err := buildEventQuery(EventFilter{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(sql, "WHERE") {
		t.Errorf("expected no WHERE clause, got %q", sql)
	}
	if !strings.Contains(sql, "ORDER BY ts DESC LIMIT 100") {
		t.Errorf("expected default limit, got %q", sql)
	}
	if len(args) != 0 {
		t.Errorf("expected no args, got %v", args)
	}
}

func TestBuildEventQuery_Filters(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args, err := buildEventQuery(EventFilter{
		NodeID:    "db",
		Component: domain.ComponentGuard,
		Kind:      domain.EventDriftDetected,
		Since:     since,
		Limit:     5000,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := "WHERE node_id = $1 AND component = $2 AND kind = $3 AND ts >= $4"
	if !strings.Contains(sql, want) {
		t.Errorf("expected %q in %q", want, sql)
	}
	if !strings.Contains(sql, "LIMIT 1000") {
		t.Errorf("expected limit capped at 1000, got %q", sql)
	}
	if len(args) != 4 || args[0] != "db" || args[1] != "guard" || args[2] != "drift_detected" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestBuildRecordUpsert(t *testing.T) {
	sql, args, err := buildRecordUpsert(domain.ReconciliationRecord{
		NodeID: "cache",
		State:  domain.GuardDrifted,
		Ticks:  7,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasPrefix(sql, "INSERT INTO reconciliation_records") {
		t.Errorf("unexpected statement %q", sql)
	}
	if !strings.Contains(sql, "ON CONFLICT (node_id) DO UPDATE") {
		t.Errorf("expected upsert clause, got %q", sql)
	}
	if len(args) != len(recordColumns) {
		t.Fatalf("expected %d args, got %d", len(recordColumns), len(args))
	}
	if args[0] != "cache" || args[1] != "DRIFTED" {
		t.Errorf("unexpected args %v", args)
	}
	if p, ok := args[8].(*string); !ok || p != nil {
		t.Errorf("empty last_error must be NULL, got %#v", args[8])
	}
}

type fakeEvents struct {
	got []domain.Event
	err error
}

func (f *fakeEvents) Insert(_ context.Context, ev domain.Event) error {
	f.got = append(f.got, ev)
	return f.err
}

type fakeRecords struct {
	got []domain.ReconciliationRecord
}

func (f *fakeRecords) Upsert(_ context.Context, rec domain.ReconciliationRecord) error {
	f.got = append(f.got, rec)
	return nil
}

type recordMap map[string]domain.ReconciliationRecord

func (m recordMap) Get(nodeID string) (domain.ReconciliationRecord, bool) {
	rec, ok := m[nodeID]
	return rec, ok
}

func TestEventSink_Emit(t *testing.T) {
	evs := &fakeEvents{err: errors.New("db down")}
	recs := &fakeRecords{}
	source := recordMap{"db": {NodeID: "db", State: domain.GuardConverged, Ticks: 3}}

	sink := NewEventSink(evs, recs, source, nil)
	ctx := context.Background()

	sink.Emit(ctx, domain.NewEvent("db", domain.ComponentLifecycle, domain.EventTransition))
	sink.Emit(ctx, domain.NewEvent("db", domain.ComponentGuard, domain.EventGuardTick))
	sink.Emit(ctx, domain.NewEvent("ghost", domain.ComponentGuard, domain.EventGuardTick))

	if len(evs.got) != 3 {
		t.Errorf("expected 3 persisted events, got %d", len(evs.got))
	}
	if len(recs.got) != 1 || recs.got[0].Ticks != 3 {
		t.Errorf("expected one record upsert for db, got %+v", recs.got)
	}
}

func TestEventSink_WithoutRecords(t *testing.T) {
	evs := &fakeEvents{}
	sink := NewEventSink(evs, nil, nil, nil)

	sink.Emit(context.Background(), domain.NewEvent("db", domain.ComponentGuard, domain.EventGuardTick))
	if len(evs.got) != 1 {
		t.Errorf("expected event persisted, got %d", len(evs.got))
	}
}
