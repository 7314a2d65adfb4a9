package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"z-novel-canon-api/internal/domain/repository"
)

// TxManager 事务管理器
type TxManager struct {
	client *Client
}

// NewTxManager 创建事务管理器
func NewTxManager(client *Client) *TxManager {
	return &TxManager{client: client}
}

// txState 上下文中的事务及其持有的系列锁
type txState struct {
	tx       *sql.Tx
	readOnly bool
	locked   map[string]bool
}

// WithTransaction 在事务中执行操作
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// 检查是否已在事务中
	if st := getTxState(ctx); st != nil {
		// 已在事务中，直接执行
		return fn(ctx)
	}
	return m.run(ctx, nil, &txState{locked: map[string]bool{}}, fn)
}

// WithSeriesLock 在事务中获取系列级咨询锁，同一系列的写操作串行化
func (m *TxManager) WithSeriesLock(ctx context.Context, seriesID string, fn func(ctx context.Context) error) error {
	st := getTxState(ctx)
	if st != nil && st.readOnly {
		return fmt.Errorf("postgres: series lock %s requested inside read-only snapshot", seriesID)
	}
	if st != nil {
		if st.locked[seriesID] {
			// 已在事务中，直接执行
			return fn(ctx)
		}
		if err := m.lockSeries(ctx, st.tx, seriesID); err != nil {
			return err
		}
		st.locked[seriesID] = true
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "postgres.TxManager.WithSeriesLock")
	defer span.End()

	st = &txState{locked: map[string]bool{}}
	err := m.run(ctx, nil, st, func(ctx context.Context) error {
		if err := m.lockSeries(ctx, st.tx, seriesID); err != nil {
			return err
		}
		st.locked[seriesID] = true
		return fn(ctx)
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// WithSnapshot 在 REPEATABLE READ 只读事务中执行，所有读取看到同一提交点
func (m *TxManager) WithSnapshot(ctx context.Context, seriesID string, fn func(ctx context.Context) error) error {
	if st := getTxState(ctx); st != nil {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "postgres.TxManager.WithSnapshot")
	defer span.End()

	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := m.run(ctx, opts, &txState{readOnly: true}, fn)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (m *TxManager) run(ctx context.Context, opts *sql.TxOptions, st *txState, fn func(ctx context.Context) error) error {
	// 开始新事务
	tx, err := m.client.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	st.tx = tx

	// 将事务放入上下文
	txCtx := context.WithValue(ctx, repository.TxKey{}, st)

	// 执行操作
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	// 提交事务
	if err := tx.Commit(); err != nil {
		return mapError(err, "commit transaction")
	}

	return nil
}

// lockSeries 事务级咨询锁，提交或回滚时自动释放
func (m *TxManager) lockSeries(ctx context.Context, tx *sql.Tx, seriesID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, seriesID); err != nil {
		return mapError(err, "acquire series lock")
	}
	return nil
}

// getTxState 从上下文获取事务
func getTxState(ctx context.Context) *txState {
	if st, ok := ctx.Value(repository.TxKey{}).(*txState); ok {
		return st
	}
	return nil
}

// Querier 查询接口（支持普通连接和事务）
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// getQuerier 根据上下文获取查询器
func getQuerier(ctx context.Context, db *sql.DB) Querier {
	if st := getTxState(ctx); st != nil {
		return st.tx
	}
	return db
}
