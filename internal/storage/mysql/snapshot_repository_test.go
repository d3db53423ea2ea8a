package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "PenPal/internal/errors"
	"PenPal/internal/registry"
	"PenPal/pkg/plugin"
)

func TestSnapshotRepositorySave(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(insertSnapshotSQL, mockResult{rowsAffected: 1}),
		execOp(insertEntrySQL, mockResult{rowsAffected: 1}),
		execOp(insertEntrySQL, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SnapshotRepository{db: db}
	err := repo.Save(context.Background(), registry.Snapshot{
		ID:      "4f0e7a2c-0000-4000-8000-000000000001",
		TakenAt: time.Now(),
		Plugins: []registry.PluginState{
			{Key: "DataStore@0.1.0", Name: "DataStore", Version: "0.1.0", Settings: plugin.Settings{"datastores": []string{"mongo"}}},
			{Key: "CoreAPI@0.1.0", Name: "CoreAPI", Version: "0.1.0"},
		},
		Types: "type Query { ping: Boolean }",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, drv.argCount(1))
	assert.Equal(t, 6, drv.argCount(2))
	assert.Equal(t, `{"datastores":["mongo"]}`, drv.arg(2, 5))
	assert.Nil(t, drv.arg(3, 5))
}

type staticSource []plugin.LoadedPlugin

func (s staticSource) Loaded() []plugin.LoadedPlugin { return s }
func (staticSource) Schema() plugin.Schema          { return plugin.Schema{} }

func TestSnapshotRepositorySaveCapturedFuncSettings(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(insertSnapshotSQL, mockResult{rowsAffected: 1}),
		execOp(insertEntrySQL, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	snap := registry.Capture(staticSource{{
		Key: "Docker@0.1.0", Name: "Docker", Version: "0.1.0", Loaded: true,
		Settings: plugin.Settings{"validate": func() {}},
	}})

	repo := &SnapshotRepository{db: db}
	require.NoError(t, repo.Save(context.Background(), snap))
	assert.Equal(t, `{"validate":"<func()>"}`, drv.arg(2, 5))
}

func TestSnapshotRepositorySaveIgnoresDuplicate(t *testing.T) {
	t.Parallel()

	dup := execOp(insertSnapshotSQL, mockResult{})
	dup.err = &mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry"}
	db, drv := newMockDB(t, []mockOperation{beginOp(), dup, rollbackOp()})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SnapshotRepository{db: db}
	assert.NoError(t, repo.Save(context.Background(), registry.Snapshot{ID: "same"}))
}

func TestSnapshotRepositorySaveWrapsFailures(t *testing.T) {
	t.Parallel()

	broken := execOp(insertSnapshotSQL, mockResult{})
	broken.err = errors.New("connection reset")
	db, drv := newMockDB(t, []mockOperation{beginOp(), broken, rollbackOp()})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SnapshotRepository{db: db}
	err := repo.Save(context.Background(), registry.Snapshot{ID: "x"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
}

func TestSnapshotRepositoryLatest(t *testing.T) {
	t.Parallel()

	takenAt := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	db, drv := newMockDB(t, []mockOperation{
		queryOp(latestSnapshotSQL, mockRowsData{
			columns: []string{"id", "taken_at", "types"},
			values:  [][]driver.Value{{"snap-1", takenAt.UnixMilli(), "type Query { ping: Boolean }"}},
		}),
		queryOp(snapshotEntriesSQL, mockRowsData{
			columns: []string{"plugin_key", "name", "version", "settings"},
			values: [][]driver.Value{
				{"DataStore@0.1.0", "DataStore", "0.1.0", `{"datastores":["mongo"]}`},
				{"CoreAPI@0.1.0", "CoreAPI", "0.1.0", nil},
			},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SnapshotRepository{db: db}
	snap, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "snap-1", snap.ID)
	assert.Equal(t, takenAt, snap.TakenAt)
	require.Len(t, snap.Plugins, 2)
	assert.Equal(t, []any{"mongo"}, snap.Plugins[0].Settings["datastores"])
	assert.Nil(t, snap.Plugins[1].Settings)
}

func TestSnapshotRepositoryLatestEmpty(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(latestSnapshotSQL, mockRowsData{columns: []string{"id", "taken_at", "types"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	repo := &SnapshotRepository{db: db}
	_, err := repo.Latest(context.Background())
	assert.ErrorIs(t, err, registry.ErrNoSnapshot)
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(embeddedMigrations)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	first := files[0]
	assert.Equal(t, "0001", first.version)

	ops := []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
	}
	for _, stmt := range first.statements {
		ops = append(ops, execOp(stmt, mockResult{}))
	}
	ops = append(ops,
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	)
	for _, later := range files[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range later.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops, execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}), commitOp())
	}

	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	require.NoError(t, runMigrations(context.Background(), db))
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(embeddedMigrations)
	require.NoError(t, err)
	applied := make([][]driver.Value, 0, len(files))
	for _, f := range files {
		applied = append(applied, []driver.Value{f.version})
	}

	db, drv := newMockDB(t, []mockOperation{
		execOp(createMigrationsTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}, values: applied}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	require.NoError(t, runMigrations(context.Background(), db))
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (id INT);\n\n  ;CREATE TABLE b (id INT);")
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, got)
	assert.Equal(t, "0002", parseMigrationVersion("0002_add_index.sql"))
	assert.Equal(t, "seed", parseMigrationVersion("seed.sql"))
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
	args   []driver.NamedValue
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

// queueDriver replays a fixed sequence of operations and fails on any
// deviation from it.
type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	require.NoError(t, err, "open mock db")
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	require.Equal(t, len(d.ops), int(atomic.LoadInt32(&d.idx)), "not all operations consumed")
}

func (d *queueDriver) argCount(op int) int {
	return len(d.ops[op].args)
}

func (d *queueDriver) arg(op, pos int) driver.Value {
	return d.ops[op].args[pos].Value
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	op.args = args
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	op.args = args
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		want := normalizeSQL(op.query)
		got := normalizeSQL(query)
		if want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
