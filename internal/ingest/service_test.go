package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-ingest-alerts/internal/broadcast"
	"price-ingest-alerts/internal/collector"
	"price-ingest-alerts/internal/snapshot"
)

var (
	regionX = snapshot.Identity{Name: "Soybean", Region: "X"}
	regionY = snapshot.Identity{Name: "Soybean", Region: "Y"}
)

type step struct {
	doc   *snapshot.Document
	err   error
	panic bool
}

type scriptedCollector struct {
	mu      sync.Mutex
	steps   []step
	cleared int
	started chan struct{}
	release chan struct{}
}

func (c *scriptedCollector) Collect(context.Context) (*snapshot.Document, error) {
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.release != nil {
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.steps) == 0 {
		return nil, nil
	}
	next := c.steps[0]
	c.steps = c.steps[1:]
	if next.panic {
		panic("collector exploded")
	}
	return next.doc, next.err
}

func (c *scriptedCollector) Clear(context.Context) error {
	c.mu.Lock()
	c.cleared++
	c.mu.Unlock()
	return nil
}

type fakeGateway struct {
	fail  int
	calls int
	last  *snapshot.Document
}

func (g *fakeGateway) SyncProducts(_ context.Context, doc *snapshot.Document) error {
	g.calls++
	if g.fail > 0 {
		g.fail--
		return errors.New("database unavailable")
	}
	g.last = doc
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (p *recordingPublisher) Publish(e broadcast.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func series(id snapshot.Identity, days int, base int64) snapshot.Entry {
	entry := snapshot.Entry{Name: id.Name, Region: id.Region}
	for i := 0; i < days; i++ {
		entry.Data = append(entry.Data, snapshot.Observation{
			Date:  fmt.Sprintf("2024-02-%02d", i+1),
			Price: decimal.NewFromInt(base + int64(i)),
		})
	}
	return entry
}

func staged(entries ...snapshot.Entry) *snapshot.Document {
	return &snapshot.Document{Regions: entries}
}

func newService(t *testing.T, col collector.Collector, gw *fakeGateway, pub broadcast.Publisher) (*Service, *snapshot.FileStore) {
	t.Helper()
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "master.json"), zerolog.Nop())
	var svc *Service
	if gw == nil {
		svc = New(col, store, nil, pub, nil, 0, zerolog.Nop())
	} else {
		svc = New(col, store, gw, pub, nil, 0, zerolog.Nop())
	}
	return svc, store
}

func TestCycleMergesAndSyncs(t *testing.T) {
	col := &scriptedCollector{steps: []step{
		{doc: staged(series(regionX, 5, 100), series(regionY, 5, 200))},
	}}
	gw := &fakeGateway{}
	pub := &recordingPublisher{}
	svc, store := newService(t, col, gw, pub)

	res, err := svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Outcome != OutcomeMerged || res.Added != 10 || !res.Synced || res.CycleID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if col.cleared != 1 {
		t.Fatal("staged output should be cleared after a merge")
	}
	if gw.calls != 1 || gw.last.ObservationCount() != 10 {
		t.Fatalf("gateway should receive the merged store, calls=%d", gw.calls)
	}
	if len(pub.events) != 2 {
		t.Fatalf("expected one event per grown product, got %d", len(pub.events))
	}
	for _, e := range pub.events {
		if e.Event != broadcast.EventPriceUpdated || e.NewObservationCount != 5 {
			t.Fatalf("unexpected event %+v", e)
		}
	}

	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.ObservationCount() != 10 || doc.Version != 1 {
		t.Fatalf("unexpected stored document: count=%d version=%d", doc.ObservationCount(), doc.Version)
	}
}

func TestCycleSecondSnapshotGrowsOneRegion(t *testing.T) {
	grown := series(regionX, 6, 100)
	col := &scriptedCollector{steps: []step{
		{doc: staged(series(regionX, 5, 100), series(regionY, 5, 200))},
		{doc: staged(grown, series(regionY, 5, 200))},
	}}
	pub := &recordingPublisher{}
	svc, store := newService(t, col, &fakeGateway{}, pub)

	for i := 0; i < 2; i++ {
		if _, err := svc.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	doc, _ := store.Load(context.Background())
	x, _ := doc.Find(regionX)
	y, _ := doc.Find(regionY)
	if len(x.Data) != 6 || len(y.Data) != 5 {
		t.Fatalf("expected 6/5, got %d/%d", len(x.Data), len(y.Data))
	}
	last := pub.events[len(pub.events)-1]
	if last.Product != regionX || last.NewObservationCount != 1 {
		t.Fatalf("second cycle should only announce region X: %+v", last)
	}
}

func TestSyncOnlySuppliesGrownProducts(t *testing.T) {
	col := &scriptedCollector{steps: []step{
		{doc: staged(series(regionX, 5, 100), series(regionY, 5, 200))},
		{doc: staged(series(regionX, 6, 100), series(regionY, 5, 200))},
	}}
	gw := &fakeGateway{}
	svc, _ := newService(t, col, gw, nil)

	for i := 0; i < 2; i++ {
		if _, err := svc.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if gw.calls != 2 {
		t.Fatalf("expected two syncs, got %d", gw.calls)
	}
	if len(gw.last.Regions) != 1 || gw.last.Regions[0].Identity() != regionX {
		t.Fatalf("second sync should carry only region X: %+v", gw.last.Regions)
	}
	if len(gw.last.Regions[0].Data) != 6 {
		t.Fatalf("grown product should be supplied with its full history, got %d", len(gw.last.Regions[0].Data))
	}
}

func TestPendingSyncResuppliesWholeStore(t *testing.T) {
	col := &scriptedCollector{steps: []step{
		{doc: staged(series(regionX, 3, 100))},
		{doc: staged(series(regionY, 2, 200))},
	}}
	gw := &fakeGateway{fail: 1}
	pub := &recordingPublisher{}
	svc, _ := newService(t, col, gw, pub)

	if _, err := svc.RunCycle(context.Background()); err == nil {
		t.Fatal("first sync should fail")
	}
	res, err := svc.RunCycle(context.Background())
	if err != nil || !res.Synced {
		t.Fatalf("second cycle should sync: %+v / %v", res, err)
	}
	if len(gw.last.Regions) != 2 || gw.last.ObservationCount() != 5 {
		t.Fatalf("pending sync should carry both products, got %+v", gw.last.Regions)
	}
	if len(pub.events) != 2 {
		t.Fatalf("held and new events should both publish, got %d", len(pub.events))
	}
}

func TestNewProductWithoutObservationsPersisted(t *testing.T) {
	rice := snapshot.Identity{Name: "Rice", Region: "X"}
	col := &scriptedCollector{steps: []step{
		{doc: staged(snapshot.Entry{Name: rice.Name, Region: rice.Region})},
	}}
	gw := &fakeGateway{}
	svc, store := newService(t, col, gw, nil)

	res, err := svc.RunCycle(context.Background())
	if err != nil || res.Outcome != OutcomeMerged {
		t.Fatalf("unexpected cycle %+v / %v", res, err)
	}
	if len(res.NewProducts) != 1 || res.NewProducts[0] != rice {
		t.Fatalf("rice should be reported as new: %+v", res.NewProducts)
	}
	doc, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := doc.Find(rice); !ok {
		t.Fatal("new product must be saved before staged output is cleared")
	}
	if col.cleared != 1 {
		t.Fatal("staged output should be cleared after the save")
	}
	if gw.calls != 0 {
		t.Fatal("nothing to sync for a product without observations")
	}
}

func TestCollectorFailureLeavesStoreUntouched(t *testing.T) {
	col := &scriptedCollector{steps: []step{
		{doc: staged(series(regionX, 5, 100))},
		{err: &collector.Failure{ExitCode: 2, Err: errors.New("exit status 2")}},
	}}
	gw := &fakeGateway{}
	svc, store := newService(t, col, gw, nil)

	if _, err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("seed cycle: %v", err)
	}
	before, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}

	res, err := svc.RunCycle(context.Background())
	if err == nil || res.Outcome != OutcomeCollectorFailed {
		t.Fatalf("expected collector failure, got %+v / %v", res, err)
	}
	var failure *collector.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("failure type lost: %v", err)
	}

	after, _ := os.ReadFile(store.Path())
	if !bytes.Equal(before, after) {
		t.Fatal("store changed after a failed cycle")
	}
	if gw.calls != 1 {
		t.Fatal("gateway must not be called on collector failure")
	}
	if svc.guard.Busy() {
		t.Fatal("guard must be released")
	}
}

func TestFormatErrorOutcome(t *testing.T) {
	col := &scriptedCollector{steps: []step{
		{err: &collector.FormatError{Reason: "region 0: missing name"}},
	}}
	svc, store := newService(t, col, &fakeGateway{}, nil)

	res, err := svc.RunCycle(context.Background())
	if err == nil || res.Outcome != OutcomeFormatError {
		t.Fatalf("expected format error, got %+v / %v", res, err)
	}
	if _, statErr := os.Stat(store.Path()); !os.IsNotExist(statErr) {
		t.Fatal("store must not be created by a rejected snapshot")
	}
}

func TestNoDataTouchesNothing(t *testing.T) {
	gw := &fakeGateway{}
	svc, store := newService(t, &scriptedCollector{}, gw, nil)

	res, err := svc.RunCycle(context.Background())
	if err != nil || res.Outcome != OutcomeNoData {
		t.Fatalf("expected no_data, got %+v / %v", res, err)
	}
	if gw.calls != 0 {
		t.Fatal("gateway must not be called without data")
	}
	if _, statErr := os.Stat(store.Path()); !os.IsNotExist(statErr) {
		t.Fatal("store must not be written without data")
	}
}

func TestSyncFailureRetriedNextCycle(t *testing.T) {
	col := &scriptedCollector{steps: []step{
		{doc: staged(series(regionX, 3, 100))},
	}}
	gw := &fakeGateway{fail: 1}
	pub := &recordingPublisher{}
	svc, store := newService(t, col, gw, pub)

	res, err := svc.RunCycle(context.Background())
	if err == nil || res.Outcome != OutcomeSyncFailed {
		t.Fatalf("expected sync failure, got %+v / %v", res, err)
	}
	if !svc.SyncPending() {
		t.Fatal("sync should be pending")
	}
	if len(pub.events) != 0 {
		t.Fatal("events wait for a successful sync")
	}
	doc, _ := store.Load(context.Background())
	if doc.ObservationCount() != 3 {
		t.Fatal("merge must be persisted even when sync fails")
	}

	res, err = svc.RunCycle(context.Background())
	if err != nil || res.Outcome != OutcomeNoData || !res.Synced {
		t.Fatalf("retry should sync the stored document: %+v / %v", res, err)
	}
	if gw.calls != 2 || gw.last.ObservationCount() != 3 {
		t.Fatalf("unexpected gateway state calls=%d", gw.calls)
	}
	if svc.SyncPending() {
		t.Fatal("sync should no longer be pending")
	}
	if len(pub.events) != 1 || pub.events[0].NewObservationCount != 3 {
		t.Fatalf("deferred event should be published after retry: %+v", pub.events)
	}
}

func TestDuplicateSnapshotSkipsSync(t *testing.T) {
	col := &scriptedCollector{steps: []step{
		{doc: staged(series(regionX, 3, 100))},
		{doc: staged(series(regionX, 3, 100))},
	}}
	gw := &fakeGateway{}
	svc, store := newService(t, col, gw, nil)

	_, _ = svc.RunCycle(context.Background())
	res, err := svc.RunCycle(context.Background())
	if err != nil || res.Outcome != OutcomeMerged || res.Added != 0 {
		t.Fatalf("unexpected second cycle %+v / %v", res, err)
	}
	if gw.calls != 1 {
		t.Fatalf("nothing new to sync, calls=%d", gw.calls)
	}
	if col.cleared != 2 {
		t.Fatal("staged output should be cleared even when nothing was added")
	}
	doc, _ := store.Load(context.Background())
	if doc.Version != 1 {
		t.Fatalf("store should not be rewritten, version=%d", doc.Version)
	}
}

func TestOverlappingCycleSkipped(t *testing.T) {
	col := &scriptedCollector{
		steps:   []step{{doc: staged(series(regionX, 2, 100))}},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	svc, _ := newService(t, col, &fakeGateway{}, nil)

	done := make(chan Result)
	go func() {
		res, _ := svc.RunCycle(context.Background())
		done <- res
	}()

	select {
	case <-col.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never reached the collector")
	}

	res, err := svc.RunCycle(context.Background())
	if err != nil || res.Outcome != OutcomeSkipped {
		t.Fatalf("overlapping cycle should be skipped: %+v / %v", res, err)
	}

	close(col.release)
	if first := <-done; first.Outcome != OutcomeMerged {
		t.Fatalf("first cycle should merge: %+v", first)
	}
}

func TestPanicIsContained(t *testing.T) {
	col := &scriptedCollector{steps: []step{{panic: true}}}
	svc, _ := newService(t, col, nil, nil)

	if _, err := svc.RunCycle(context.Background()); err == nil {
		t.Fatal("panic should surface as an error")
	}
	if svc.guard.Busy() {
		t.Fatal("guard must be released after a panic")
	}
	if res, err := svc.RunCycle(context.Background()); err != nil || res.Outcome != OutcomeNoData {
		t.Fatalf("service should keep working: %+v / %v", res, err)
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (*snapshot.Document, error) {
	return snapshot.NewDocument(), nil
}

func (failingStore) Save(context.Context, *snapshot.Document) error {
	return snapshot.ErrVersionConflict
}

func TestStoreFailureKeepsStagedOutput(t *testing.T) {
	col := &scriptedCollector{steps: []step{{doc: staged(series(regionX, 2, 100))}}}
	gw := &fakeGateway{}
	svc := New(col, failingStore{}, gw, nil, nil, 0, zerolog.Nop())

	res, err := svc.RunCycle(context.Background())
	if !errors.Is(err, snapshot.ErrVersionConflict) || res.Outcome != OutcomeStoreFailed {
		t.Fatalf("expected store failure, got %+v / %v", res, err)
	}
	if col.cleared != 0 {
		t.Fatal("staged output must survive a failed save")
	}
	if gw.calls != 0 {
		t.Fatal("nothing should be synced after a failed save")
	}
}

type stubLocker struct {
	acquired bool
	released bool
}

func (l *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.released = true }, true, nil
}

func TestAdvisoryLockHeldElsewhere(t *testing.T) {
	col := &scriptedCollector{steps: []step{{doc: staged(series(regionX, 2, 100))}}}
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "master.json"), zerolog.Nop())
	svc := New(col, store, nil, nil, &stubLocker{}, 42, zerolog.Nop())

	res, err := svc.RunCycle(context.Background())
	if err != nil || res.Outcome != OutcomeSkipped {
		t.Fatalf("expected skip, got %+v / %v", res, err)
	}

	locker := &stubLocker{acquired: true}
	svc = New(col, store, nil, nil, locker, 42, zerolog.Nop())
	if res, err := svc.RunCycle(context.Background()); err != nil || res.Outcome != OutcomeMerged {
		t.Fatalf("expected merge, got %+v / %v", res, err)
	}
	if !locker.released {
		t.Fatal("advisory lock should be released")
	}
}
