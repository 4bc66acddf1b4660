package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	xerrors "Aegis-MCP/internal/errors"
	"Aegis-MCP/pkg/logger"
)

const (
	defaultBatchSize  = 64
	defaultQueueSize  = 1024
	defaultFlushEvery = 5 * time.Second

	flushTimeout = 10 * time.Second
)

const (
	insertMySQL    = `INSERT INTO audit_log (id, kind, user_id, surface, tool_name, outcome, categories, summary, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertPostgres = `INSERT INTO audit_log (id, kind, user_id, surface, tool_name, outcome, categories, summary, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

// SQLConfig 描述审计数据库落点的配置。
type SQLConfig struct {
	Driver     string        `json:"driver"`
	DSN        string        `json:"dsn"`
	BatchSize  int           `json:"batch_size"`
	QueueSize  int           `json:"queue_size"`
	FlushEvery time.Duration `json:"-"`
}

// SQLRecorder 把审计记录批量写入关系数据库。记录先进入内存队列，
// 由后台协程按批落库；队列满时丢弃并告警，审计绝不阻塞业务路径。
type SQLRecorder struct {
	db         *sql.DB
	insert     string
	queue      chan Entry
	done       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	log        *slog.Logger
	batchSize  int
	flushEvery time.Duration
}

// NewSQLRecorder 按驱动创建数据库落点，支持 mysql 与 postgres。
func NewSQLRecorder(cfg SQLConfig) (*SQLRecorder, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var insert string
	switch driver {
	case "mysql":
		insert = insertMySQL
	case "postgres":
		insert = insertPostgres
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的审计存储驱动 %q", cfg.Driver))
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开审计数据库失败")
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接审计数据库失败")
	}

	return newSQLRecorder(db, insert, cfg), nil
}

// newSQLRecorder 装配落点并启动后台写入协程。
func newSQLRecorder(db *sql.DB, insert string, cfg SQLConfig) *SQLRecorder {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	flushEvery := cfg.FlushEvery
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}

	recorder := &SQLRecorder{
		db:         db,
		insert:     insert,
		queue:      make(chan Entry, queueSize),
		done:       make(chan struct{}),
		log:        logger.Named("audit.sql"),
		batchSize:  batchSize,
		flushEvery: flushEvery,
	}
	recorder.wg.Add(1)
	go recorder.run()
	return recorder
}

// Record 将记录放入写入队列。
func (r *SQLRecorder) Record(_ context.Context, entry Entry) {
	entry = normalize(entry)
	select {
	case r.queue <- entry:
	default:
		r.log.Warn("审计队列已满，丢弃记录", "audit_id", entry.ID, "kind", string(entry.Kind))
	}
}

// Close 停止后台协程，清空队列中的剩余记录后关闭数据库连接。
func (r *SQLRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		err = r.db.Close()
	})
	return err
}

func (r *SQLRecorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	batch := make([]Entry, 0, r.batchSize)
	for {
		select {
		case entry := <-r.queue:
			batch = append(batch, entry)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.done:
			// 退出前清空队列，已入队的记录不丢失。
			for {
				select {
				case entry := <-r.queue:
					batch = append(batch, entry)
				default:
					if len(batch) > 0 {
						r.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush 在单个事务内批量写入。单条失败只告警，不中断其余记录。
func (r *SQLRecorder) flush(batch []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.log.Warn("开启审计写入事务失败", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx, r.insert)
	if err != nil {
		_ = tx.Rollback()
		r.log.Warn("准备审计写入语句失败", "error", err)
		return
	}

	for _, entry := range batch {
		categories := entry.Categories
		if categories == nil {
			categories = []string{}
		}
		encoded, err := json.Marshal(categories)
		if err != nil {
			r.log.Warn("序列化审计类别失败", "error", err, "audit_id", entry.ID)
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			entry.ID,
			string(entry.Kind),
			entry.UserID,
			entry.Surface,
			entry.ToolName,
			entry.Outcome,
			string(encoded),
			entry.Summary,
			entry.Timestamp,
		); err != nil {
			r.log.Warn("写入审计记录失败", "error", err, "audit_id", entry.ID)
		}
	}

	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		r.log.Warn("提交审计批次失败", "error", err, "batch_size", len(batch))
	}
}

var _ Recorder = (*SQLRecorder)(nil)
