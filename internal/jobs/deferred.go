package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Deferred — отложенные задачи (например, удаление сообщения со ссылкой на оплату).
// У каждой задачи свой контекст; падение одной не влияет на остальные.
type Deferred struct {
	mu      sync.Mutex
	tasks   map[string]*deferredTask
	wg      sync.WaitGroup
	stopped bool
	timeout time.Duration
}

type deferredTask struct {
	name   string
	timer  *time.Timer
	cancel context.CancelFunc
}

// NewDeferred создаёт очередь. timeout ограничивает время выполнения одной задачи.
func NewDeferred(timeout time.Duration) *Deferred {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Deferred{
		tasks:   make(map[string]*deferredTask),
		timeout: timeout,
	}
}

// Schedule запускает fn через delay. Возвращает id задачи для Cancel.
func (d *Deferred) Schedule(delay time.Duration, name string, fn func(ctx context.Context) error) string {
	id := uuid.NewString()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		log.WithField("task", name).Warn("Очередь отложенных задач остановлена, задача пропущена")
		return ""
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &deferredTask{name: name, cancel: cancel}
	d.wg.Add(1)
	task.timer = time.AfterFunc(delay, func() {
		defer d.wg.Done()
		defer d.forget(id)
		d.run(ctx, id, name, fn)
	})
	d.tasks[id] = task
	return id
}

func (d *Deferred) run(parent context.Context, id, name string, fn func(ctx context.Context) error) {
	logger := log.WithFields(log.Fields{"task": name, "task_id": id})
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(log.Fields{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			}).Error("ПАНИКА в отложенной задаче, восстановлено")
		}
	}()

	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		logger.WithError(err).Warn("Отложенная задача завершилась с ошибкой")
		return
	}
	logger.Debug("Отложенная задача выполнена")
}

func (d *Deferred) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tasks[id]; ok {
		t.cancel()
		delete(d.tasks, id)
	}
}

// Cancel отменяет задачу, если она ещё не запущена. true, если задача снята.
func (d *Deferred) Cancel(id string) bool {
	d.mu.Lock()
	t, ok := d.tasks[id]
	if ok {
		delete(d.tasks, id)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}

	t.cancel()
	if t.timer.Stop() {
		d.wg.Done()
		return true
	}
	// таймер уже сработал: задача видит отменённый контекст
	return false
}

// Pending — сколько задач ждут запуска или выполняются.
func (d *Deferred) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// Stop снимает все ожидающие задачи и ждёт выполняющиеся.
func (d *Deferred) Stop() {
	d.mu.Lock()
	d.stopped = true
	tasks := d.tasks
	d.tasks = make(map[string]*deferredTask)
	d.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		if t.timer.Stop() {
			d.wg.Done()
		}
	}
	d.wg.Wait()
	log.WithField("cancelled", len(tasks)).Info("Отложенные задачи остановлены")
}
