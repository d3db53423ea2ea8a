package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"PenPal/internal/registry"
	"PenPal/pkg/plugin"
)

const (
	insertSnapshotSQL = `INSERT INTO plugin_snapshots (id, taken_at, plugin_count, types)
    VALUES (?, ?, ?, ?)`
	insertEntrySQL = `INSERT INTO plugin_snapshot_entries (snapshot_id, position, plugin_key, name, version, settings)
    VALUES (?, ?, ?, ?, ?, ?)`
	latestSnapshotSQL = `SELECT id, taken_at, types FROM plugin_snapshots
    ORDER BY taken_at DESC LIMIT 1`
	snapshotEntriesSQL = `SELECT plugin_key, name, version, settings FROM plugin_snapshot_entries
    WHERE snapshot_id = ? ORDER BY position`
)

// mysqlDuplicateEntry 是主键冲突的错误号。
const mysqlDuplicateEntry = 1062

// SnapshotRepository 将插件注册表快照保存到 MySQL。
type SnapshotRepository struct {
	db *sql.DB
}

var _ registry.Store = (*SnapshotRepository)(nil)

// NewSnapshotRepository 创建连接池并执行迁移。
func NewSnapshotRepository(ctx context.Context, cfg Config) (*SnapshotRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SnapshotRepository{db: db}, nil
}

// Save 在一个事务中写入快照及其插件条目。重复保存同一快照视为成功。
func (r *SnapshotRepository) Save(ctx context.Context, snap registry.Snapshot) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertSnapshotSQL, snap.ID, snap.TakenAt.UnixMilli(), len(snap.Plugins), snap.Types); err != nil {
			return err
		}
		for i, p := range snap.Plugins {
			settings, err := encodeSettings(p.Settings)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insertEntrySQL, snap.ID, i, p.Key, p.Name, p.Version, settings); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return nil
	}
	return storageErr(err, "保存插件快照失败")
}

// Latest 返回最近保存的快照。
func (r *SnapshotRepository) Latest(ctx context.Context) (registry.Snapshot, error) {
	var (
		snap    registry.Snapshot
		takenAt int64
	)
	err := r.db.QueryRowContext(ctx, latestSnapshotSQL).Scan(&snap.ID, &takenAt, &snap.Types)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Snapshot{}, registry.ErrNoSnapshot
	}
	if err != nil {
		return registry.Snapshot{}, storageErr(err, "查询插件快照失败")
	}
	snap.TakenAt = time.UnixMilli(takenAt).UTC()

	rows, err := r.db.QueryContext(ctx, snapshotEntriesSQL, snap.ID)
	if err != nil {
		return registry.Snapshot{}, storageErr(err, "查询快照条目失败")
	}
	defer rows.Close()

	snap.Plugins = []registry.PluginState{}
	for rows.Next() {
		var (
			state    registry.PluginState
			settings sql.NullString
		)
		if err := rows.Scan(&state.Key, &state.Name, &state.Version, &settings); err != nil {
			return registry.Snapshot{}, storageErr(err, "解析快照条目失败")
		}
		if settings.Valid && settings.String != "" {
			if err := json.Unmarshal([]byte(settings.String), &state.Settings); err != nil {
				return registry.Snapshot{}, storageErr(err, "解析插件设置失败")
			}
		}
		snap.Plugins = append(snap.Plugins, state)
	}
	if err := rows.Err(); err != nil {
		return registry.Snapshot{}, storageErr(err, "遍历快照条目失败")
	}
	return snap, nil
}

// Close 关闭底层数据库连接。
func (r *SnapshotRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func encodeSettings(settings plugin.Settings) (sql.NullString, error) {
	if len(settings) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
