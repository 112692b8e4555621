package utils

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type ShutdownManager struct {
	log            *zap.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	shutdownHooks  []func() error
	hooksMutex     sync.Mutex
	gracePeriod    time.Duration
	shutdownSignal chan os.Signal
}

func NewShutdownManager(log *zap.Logger, gracePeriod time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())

	sm := &ShutdownManager{
		log:            log,
		ctx:            ctx,
		cancel:         cancel,
		shutdownHooks:  make([]func() error, 0),
		gracePeriod:    gracePeriod,
		shutdownSignal: make(chan os.Signal, 1),
	}

	signal.Notify(sm.shutdownSignal, syscall.SIGINT, syscall.SIGTERM)

	go sm.waitForShutdownSignal()

	return sm
}

func (sm *ShutdownManager) waitForShutdownSignal() {
	sig := <-sm.shutdownSignal
	sm.log.Info("received shutdown signal", zap.String("signal", sig.String()))
	sm.InitiateShutdown()
}

func (sm *ShutdownManager) RegisterShutdownHook(name string, hook func() error) {
	sm.hooksMutex.Lock()
	defer sm.hooksMutex.Unlock()

	wrappedHook := func() error {
		sm.log.Info("executing shutdown hook", zap.String("hook", name))
		err := hook()
		if err != nil {
			sm.log.Warn("shutdown hook failed", zap.String("hook", name), zap.Error(err))
			return err
		}
		sm.log.Info("shutdown hook completed", zap.String("hook", name))
		return nil
	}

	sm.shutdownHooks = append(sm.shutdownHooks, wrappedHook)
}

func (sm *ShutdownManager) InitiateShutdown() {
	sm.log.Info("initiating graceful shutdown", zap.Duration("grace_period", sm.gracePeriod))

	sm.cancel()

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		sm.log.Info("all goroutines completed gracefully")
	case <-time.After(sm.gracePeriod):
		sm.log.Warn("grace period expired, forcing shutdown")
	}

	sm.executeShutdownHooks()

	sm.log.Info("shutdown complete")
	os.Exit(0)
}

func (sm *ShutdownManager) executeShutdownHooks() {
	sm.hooksMutex.Lock()
	hooks := make([]func() error, len(sm.shutdownHooks))
	copy(hooks, sm.shutdownHooks)
	sm.hooksMutex.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			sm.log.Warn("shutdown hook failed", zap.Error(err))
		}
	}
}

func (sm *ShutdownManager) Context() context.Context {
	return sm.ctx
}

func (sm *ShutdownManager) AddTask() {
	sm.wg.Add(1)
}

func (sm *ShutdownManager) TaskDone() {
	sm.wg.Done()
}

func (sm *ShutdownManager) WaitGroup() *sync.WaitGroup {
	return &sm.wg
}

type ResourceLimiter struct {
	maxGoroutines int
	semaphore     chan struct{}
	active        int
	mutex         sync.Mutex
}

func NewResourceLimiter(maxGoroutines int) *ResourceLimiter {
	return &ResourceLimiter{
		maxGoroutines: maxGoroutines,
		semaphore:     make(chan struct{}, maxGoroutines),
	}
}

func (rl *ResourceLimiter) Acquire(timeout time.Duration) bool {
	select {
	case rl.semaphore <- struct{}{}:
		rl.mutex.Lock()
		rl.active++
		rl.mutex.Unlock()
		return true
	case <-time.After(timeout):
		return false
	}
}

func (rl *ResourceLimiter) Release() {
	<-rl.semaphore
	rl.mutex.Lock()
	rl.active--
	rl.mutex.Unlock()
}

func (rl *ResourceLimiter) GetActiveCount() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return rl.active
}

func (rl *ResourceLimiter) GetCapacity() int {
	return rl.maxGoroutines
}

func (rl *ResourceLimiter) Execute(task func(), timeout time.Duration) bool {
	if !rl.Acquire(timeout) {
		return false
	}
	
	go func() {
		defer rl.Release()
		task()
	}()
	
	return true
}
