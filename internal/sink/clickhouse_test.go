package sink

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/cfraser/docsink/internal/metrics"
	"github.com/cfraser/docsink/internal/queue"
)

// passthroughConverter lets the nested channel tuples reach the mock
// driver; the real ClickHouse driver binds them natively.
type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) {
	return driver.Value(v), nil
}

func newMockWriter(t *testing.T, q *queue.Queue) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthroughConverter{}))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := metrics.New(q.Len)
	w := NewWriter(db, q, m, zap.NewNop())
	w.delay = 10 * time.Millisecond
	return w, mock
}

func TestInsertStatement(t *testing.T) {
	stmt := InsertStatement("docsis")
	want := "INSERT INTO docsis (modem_name, modem_config_filename, modem_uptime, " +
		"modem_version, modem_model, downstream_channels, upstream_channels, " +
		"scrape_latency, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	if stmt != want {
		t.Errorf("InsertStatement = %q, want %q", stmt, want)
	}
}

func TestWriterInsertsBatch(t *testing.T) {
	q := queue.New(25)
	w, mock := newMockWriter(t, q)

	row := []any{"MB8600", "cfg.bin", 444069, "8600-19.3.18", "MB8600",
		[][]any{}, [][]any{}, 0.42, 1700000000.5}

	mock.ExpectExec(regexp.QuoteMeta(InsertStatement("docsis"))).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Enqueue(ctx, queue.Batch{
		Statement: InsertStatement("docsis"),
		Rows:      [][]any{row},
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return q.Len() == 0 })
	cancel()
	<-done

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriterDropsFailedBatchAndContinues(t *testing.T) {
	q := queue.New(25)
	w, mock := newMockWriter(t, q)

	stmt := InsertStatement("docsis")
	mock.ExpectExec(regexp.QuoteMeta(stmt)).
		WillReturnError(errors.New("clickhouse unavailable"))
	mock.ExpectExec(regexp.QuoteMeta(stmt)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	for _, name := range []string{"first", "second"} {
		if err := q.Enqueue(ctx, queue.Batch{
			Statement: stmt,
			Rows:      [][]any{{name}},
		}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Both batches must be consumed: the first dropped after its failed
	// insert, the second delivered after the retry delay.
	waitFor(t, func() bool { return q.Len() == 0 })
	waitFor(t, func() bool { return mock.ExpectationsWereMet() == nil })
	cancel()
	<-done
}

func TestWriterStopsOnCancel(t *testing.T) {
	q := queue.New(25)
	w, _ := newMockWriter(t, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not stop on context cancellation")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
