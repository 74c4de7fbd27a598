package naming

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultTaskChanSize = 100
	defaultWorkerNum    = 4

	// 停止时处理剩余任务的时限
	flushTimeout = 5 * time.Second
)

// Renamer 远端改名接口
type Renamer interface {
	UpdateSessionName(ctx context.Context, sessionID, name string) error
}

type RenameTask struct {
	SessionID string
	Name      string
}

// Syncer 将本地乐观改名的结果同步给远端。
// 同步是尽力而为的：失败只记录日志，不重试，也不回滚本地名称。
type Syncer struct {
	renamer   Renamer
	taskChan  chan RenameTask
	workerNum int

	wg      sync.WaitGroup
	running atomic.Bool

	synced  atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

type Option func(*Syncer)

func WithWorkerNum(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.workerNum = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.taskChan = make(chan RenameTask, n)
		}
	}
}

func NewSyncer(renamer Renamer, opts ...Option) *Syncer {
	s := &Syncer{
		renamer:   renamer,
		taskChan:  make(chan RenameTask, defaultTaskChanSize),
		workerNum: defaultWorkerNum,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run 启动 worker 并阻塞到 ctx 结束且所有 worker 退出
func (s *Syncer) Run(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	for i := 1; i <= s.workerNum; i++ {
		s.wg.Add(1)
		go s.executeRename(ctx, i)
	}
	s.wg.Wait()
}

// RegisterRenameTask 不阻塞调用方，队列已满时丢弃任务
func (s *Syncer) RegisterRenameTask(task RenameTask) {
	select {
	case s.taskChan <- task:
	default:
		s.dropped.Add(1)
		slog.Warn("Rename task queue full, dropping task",
			"session_id", task.SessionID,
		)
	}
}

type Stats struct {
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

func (s *Syncer) Stats() Stats {
	return Stats{
		Synced:  s.synced.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
	}
}

func (s *Syncer) executeRename(ctx context.Context, id int) {
	defer s.wg.Done()
	slog.Debug("Starting rename worker", "worker_id", id)
	defer slog.Debug("Rename worker exit", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			s.flush(ctx, id)
			return
		case task := <-s.taskChan:
			s.rename(ctx, id, task)
		}
	}
}

// flush 停止前处理已入队的任务，不再等待新任务
func (s *Syncer) flush(ctx context.Context, id int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	for {
		select {
		case task := <-s.taskChan:
			s.rename(ctx, id, task)
		default:
			return
		}
	}
}

func (s *Syncer) rename(ctx context.Context, id int, task RenameTask) {
	if err := s.renamer.UpdateSessionName(ctx, task.SessionID, task.Name); err != nil {
		s.failed.Add(1)
		slog.Warn("Failed to sync session name",
			"session_id", task.SessionID,
			"worker_id", id,
			"err", err,
		)
		return
	}
	s.synced.Add(1)
}
