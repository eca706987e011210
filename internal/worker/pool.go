package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
)

type Task func(ctx context.Context) error

// Handle 后台任务句柄，可等待完成或查询结果
type Handle struct {
	key  string
	done chan struct{}
	err  error
}

func (h *Handle) Key() string { return h.key }

func (h *Handle) Done() <-chan struct{} { return h.done }

// Err 任务结束前返回 nil
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait 阻塞到任务结束或 ctx 取消
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

type job struct {
	handle *Handle
	task   Task
}

// Pool 固定数量的 worker 消费有界队列，同一个 key 同时只会有一个任务
type Pool struct {
	workers     int
	taskTimeout time.Duration
	jobs        chan job

	mu       sync.Mutex
	inflight map[string]*Handle
	closed   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(workers, queueSize int, taskTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		workers:     workers,
		taskTimeout: taskTimeout,
		jobs:        make(chan job, queueSize),
		inflight:    make(map[string]*Handle),
	}
}

// Start 启动 worker，ctx 取消或调用 Stop 后退出
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for w := 1; w <= p.workers; w++ {
		p.wg.Add(1)
		go func(w int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-p.jobs:
					p.run(ctx, w, j)
				}
			}
		}(w)
	}
}

// Submit 入队任务，相同 key 尚未完成时直接返回已有句柄
func (p *Pool) Submit(key string, task Task) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if h, ok := p.inflight[key]; ok {
		return h, nil
	}

	h := &Handle{key: key, done: make(chan struct{})}
	select {
	case p.jobs <- job{handle: h, task: task}:
	default:
		return nil, ErrQueueFull
	}
	p.inflight[key] = h
	return h, nil
}

// InFlight 任务是否已入队或正在执行
func (p *Pool) InFlight(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[key]
	return ok
}

// Closing Stop 已被调用，执行中任务的 ctx 随后会被取消
func (p *Pool) Closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) run(ctx context.Context, w int, j job) {
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panic: %v", j.handle.key, r)
			}
		}()
		return j.task(ctx)
	}()
	if err != nil {
		log.Printf("[Worker] worker %d task %s failed: %v", w, j.handle.key, err)
	}
	p.complete(j.handle, err)
}

func (p *Pool) complete(h *Handle, err error) {
	p.mu.Lock()
	if p.inflight[h.key] == h {
		delete(p.inflight, h.key)
	}
	p.mu.Unlock()
	h.finish(err)
}

// Stop 停止接收任务，等待执行中的任务退出，队列中剩余任务以 ErrPoolClosed 结束
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	for {
		select {
		case j := <-p.jobs:
			p.complete(j.handle, ErrPoolClosed)
		default:
			return
		}
	}
}
