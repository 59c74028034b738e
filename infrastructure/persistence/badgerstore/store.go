// Package badgerstore 基于 Badger 的嵌入式持久化：定义、运行、执行记录、调度工作项、去重键
package badgerstore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
)

// 键前缀
const (
	prefixDefinition = "def:"
	prefixRun        = "run:"
	prefixRunCreated = "runidx:created:"
	prefixRunStatus  = "runidx:status:"
	prefixRecord     = "rec:"
	prefixSchedItem  = "sched:item:"
	prefixSchedReady = "sched:ready:"
	prefixSchedClaim = "sched:claim:"
	prefixDedupe     = "dedupe:"

	timestampWidth  = 19
	conflictRetries = 8
)

// Config Badger 配置
type Config struct {
	Dir        string `json:"dir" yaml:"dir"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// BadgerError Badger 存储错误
type BadgerError struct {
	message string
	cause   error
}

func (e *BadgerError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *BadgerError) Unwrap() error {
	return e.cause
}

// NewBadgerErrorf 创建格式化存储错误
func NewBadgerErrorf(format string, args ...interface{}) *BadgerError {
	return &BadgerError{message: fmt.Sprintf(format, args...)}
}

// WrapBadgerError 包装底层或领域错误
func WrapBadgerError(cause error, format string, args ...interface{}) *BadgerError {
	return &BadgerError{message: fmt.Sprintf(format, args...), cause: cause}
}

// IsBadgerError 判断是否为存储错误
func IsBadgerError(err error) bool {
	var target *BadgerError
	return errors.As(err, &target)
}

// Store 持有 Badger 数据库，各仓储共享
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open 打开数据库
func Open(config Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Dir == "" {
			return nil, NewBadgerErrorf("badger dir is required")
		}
		opts = badger.DefaultOptions(config.Dir).WithSyncWrites(config.SyncWrites)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, WrapBadgerError(err, "open badger at %q", config.Dir)
	}
	return NewStore(db, logger), nil
}

// NewStore 包装已打开的数据库
func NewStore(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "badger-store")}
}

// DB 底层数据库
func (s *Store) DB() *badger.DB { return s.db }

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC 回收值日志，直到没有可回收的文件
func (s *Store) RunGC(discardRatio float64) {
	for {
		if err := s.db.RunValueLogGC(discardRatio); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
				s.logger.Warn("value log gc failed", "error", err)
			}
			return
		}
	}
}

// update 乐观事务冲突时重试
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(time.Duration(i+1) * time.Millisecond)
	}
	return err
}

func getJSON(txn *badger.Txn, key string, out interface{}) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// timeKey 定宽纳秒时间戳，保证按字典序即按时间排序
func timeKey(prefix string, t time.Time, id string) string {
	return fmt.Sprintf("%s%0*d:%s", prefix, timestampWidth, t.UnixNano(), id)
}

// parseTimeKey 解析 timeKey 生成的键
func parseTimeKey(prefix string, key []byte) (time.Time, string, error) {
	rest := string(key[len(prefix):])
	if len(rest) < timestampWidth+1 || rest[timestampWidth] != ':' {
		return time.Time{}, "", NewBadgerErrorf("invalid index key %q", key)
	}
	var nanos int64
	if _, err := fmt.Sscanf(rest[:timestampWidth], "%d", &nanos); err != nil {
		return time.Time{}, "", WrapBadgerError(err, "invalid timestamp in key %q", key)
	}
	return time.Unix(0, nanos).UTC(), rest[timestampWidth+1:], nil
}

// badgerLogger 将 Badger 内部日志转到 slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(f, v...))
}
