package automation

import (
	"context"
	"fmt"

	"github.com/nerrad567/beacon/internal/conduct"
	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/dispatch"
	"github.com/nerrad567/beacon/internal/pubsub"
)

// Logger defines the logging interface used by the automation package.
// Trace carries per-change noise such as "no process matched".
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Trace(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives process counters. *metrics.Metrics satisfies it.
type Metrics interface {
	ProcessFired(process string)
	ProcessFailed(process string)
}

type noopMetrics struct{}

func (noopMetrics) ProcessFired(string)  {}
func (noopMetrics) ProcessFailed(string) {}

// ProcessLister returns the current process catalog. *ProcessSource
// satisfies it.
type ProcessLister interface {
	Processes(ctx context.Context) ([]StateTriggerProcess, error)
}

// ConductPublisher hands conducts to adapters. *conduct.Manager satisfies it.
type ConductPublisher interface {
	PublishAsync(ctx context.Context, conducts []conduct.Conduct) error
}

// Processor evaluates state-triggered processes on every state change.
//
// Processes with a delay wait on the delayed-triggers queue before their
// condition is evaluated. Conducts with a delay wait on a separate
// delayed-conducts queue, so a delayed trigger can still produce delayed
// conducts.
type Processor struct {
	states    *pubsub.KeyedHub[device.DeviceTarget]
	processes ProcessLister
	reader    StateReader
	conducts  ConductPublisher

	triggers      *dispatch.DelayQueue[StateTriggerProcess]
	delayed       *dispatch.DelayQueue[conduct.Conduct]
	triggerWorker *dispatch.Worker[StateTriggerProcess]
	conductWorker *dispatch.Worker[conduct.Conduct]

	sub     *pubsub.Subscription
	metrics Metrics
	logger  Logger
}

// NewProcessor wires a processor. logger may be nil.
//
// Parameters:
//   - states: Hub the state store announces changed targets on
//   - processes: Process catalog source
//   - reader: Live state for condition evaluation
//   - conducts: Destination for fired conducts
//   - logger: Logger instance
func NewProcessor(states *pubsub.KeyedHub[device.DeviceTarget], processes ProcessLister, reader StateReader, conducts ConductPublisher, logger Logger) *Processor {
	if logger == nil {
		logger = noopLogger{}
	}
	p := &Processor{
		states:    states,
		processes: processes,
		reader:    reader,
		conducts:  conducts,
		triggers:  dispatch.NewDelayQueue[StateTriggerProcess](),
		delayed:   dispatch.NewDelayQueue[conduct.Conduct](),
		metrics:   noopMetrics{},
		logger:    logger,
	}
	p.triggerWorker = dispatch.NewWorker("delayed-triggers", p.triggers, p.fireDelayedTrigger, logger)
	p.conductWorker = dispatch.NewWorker("delayed-conducts", p.delayed, p.publishDelayedConduct, logger)
	return p
}

// SetMetrics sets the metrics receiver.
func (p *Processor) SetMetrics(m Metrics) {
	p.metrics = m
}

// Start launches both queue workers and subscribes to state changes.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.triggerWorker.Start(ctx); err != nil {
		return err
	}
	if err := p.conductWorker.Start(ctx); err != nil {
		p.triggerWorker.Stop()
		return err
	}
	p.sub = p.states.Subscribe("automation", p.StateChanged)
	p.logger.Info("automation processor started")
	return nil
}

// Stop unsubscribes and joins both workers. Pending delayed items are
// discarded with the processor.
func (p *Processor) Stop() {
	if p.sub != nil {
		p.sub.Close()
	}
	p.triggerWorker.Stop()
	p.conductWorker.Stop()
	p.logger.Info("automation processor stopped")
}

// PendingTriggers returns the number of delayed triggers not yet due.
func (p *Processor) PendingTriggers() int { return p.triggers.Len() }

// PendingConducts returns the number of delayed conducts not yet due.
func (p *Processor) PendingConducts() int { return p.delayed.Len() }

// StateChanged runs the processes triggered by target.
func (p *Processor) StateChanged(ctx context.Context, target device.DeviceTarget) error {
	all, err := p.processes.Processes(ctx)
	if err != nil {
		return fmt.Errorf("loading processes: %w", err)
	}

	var immediate []StateTriggerProcess
	matched := 0
	for i := range all {
		proc := all[i]
		if !proc.Matches(target) {
			continue
		}
		matched++
		if proc.Delay > 0 {
			p.triggers.Enqueue(proc, proc.Delay)
			p.logger.Debug("process trigger delayed", "process", proc.Name(), "delay", proc.Delay)
			continue
		}
		immediate = append(immediate, proc)
	}

	if matched == 0 {
		p.logger.Trace("no process matched", "target", target.String())
		return nil
	}
	return p.fire(ctx, immediate)
}

func (p *Processor) fireDelayedTrigger(ctx context.Context, proc StateTriggerProcess) error {
	return p.fire(ctx, []StateTriggerProcess{proc})
}

// fire evaluates each process, collects the conducts of those whose
// condition holds and dispatches them.
func (p *Processor) fire(ctx context.Context, procs []StateTriggerProcess) error {
	var collected []conduct.Conduct
	for i := range procs {
		collected = append(collected, p.evaluate(ctx, &procs[i])...)
	}
	if len(collected) == 0 {
		return nil
	}

	var now []conduct.Conduct
	for _, c := range collected {
		if c.Delay > 0 {
			p.delayed.Enqueue(c, c.Delay)
			continue
		}
		now = append(now, c)
	}
	if len(now) == 0 {
		return nil
	}
	return p.conducts.PublishAsync(ctx, now)
}

// evaluate checks one process in isolation. Errors and panics are logged
// against the process and yield no conducts.
func (p *Processor) evaluate(ctx context.Context, proc *StateTriggerProcess) (out []conduct.Conduct) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("process condition panicked", "process", proc.Name(), "panic", r)
			p.metrics.ProcessFailed(proc.Name())
			out = nil
		}
	}()

	met, err := Evaluate(ctx, proc.Condition, p.reader)
	if err != nil {
		p.logger.Warn("process condition failed", "process", proc.Name(), "error", err)
		p.metrics.ProcessFailed(proc.Name())
		return nil
	}
	if !met {
		p.logger.Debug("process condition not met", "process", proc.Name())
		return nil
	}

	p.logger.Info("process fired", "process", proc.Name(), "conducts", len(proc.Conducts))
	p.metrics.ProcessFired(proc.Name())

	out = make([]conduct.Conduct, 0, len(proc.Conducts))
	for _, tmpl := range proc.Conducts {
		out = append(out, conduct.New(tmpl.Target, tmpl.Value, tmpl.Delay))
	}
	return out
}

func (p *Processor) publishDelayedConduct(ctx context.Context, c conduct.Conduct) error {
	c.Delay = 0
	return p.conducts.PublishAsync(ctx, []conduct.Conduct{c})
}
