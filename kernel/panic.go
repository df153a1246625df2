package kernel

import "fmt"

// TaskPanic describes a panic recovered from a task.
type TaskPanic struct {
	TaskID TaskID
	Value  any
	Stack  []byte
}

func (p *TaskPanic) Error() string {
	return fmt.Sprintf("kernel: task %d panicked: %v", p.TaskID, p.Value)
}

// InPanicMode reports whether a task has panicked.
func (k *Kernel) InPanicMode() bool {
	return k.panicActive.Load()
}

func (k *Kernel) recoverTask(tid TaskID) {
	r := recover()
	if r == nil {
		return
	}
	k.triggerPanic(&TaskPanic{TaskID: tid, Value: r, Stack: captureStack()})
}

// triggerPanic halts the kernel. Only the first panic is reported.
func (k *Kernel) triggerPanic(p *TaskPanic) {
	k.panicOnce.Do(func() {
		k.panicActive.Store(true)
		k.log.Errorf("task %d panic: %v", p.TaskID, p.Value)
		if fn := k.cfg.OnPanic; fn != nil {
			fn(p)
		}
		k.halt(p)
	})
}
