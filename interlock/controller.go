package interlock

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultCyclePeriodMs = 20
	MinCyclePeriodMs     = 10
	MaxCyclePeriodMs     = 50

	requestQueueSize = 16
)

// Request is a driver command or a mode change injected from outside the
// control cycle.
type Request struct {
	Command DriverCommand
	SetMode bool
	Mode    Mode
}

func CommandRequest(cmd DriverCommand) Request {
	return Request{Command: cmd}
}

func ModeRequest(mode Mode) Request {
	return Request{SetMode: true, Mode: mode}
}

type ControllerOptions struct {
	Clock          Clock
	Publisher      FramePublisher
	Actuator       DoorActuator
	Obstacles      ObstacleSensor
	CyclePeriodMs  uint32
	DoorTravelMs   uint32
	StatusPeriodMs uint32
	CANQueueSize   int
	Logger         Logger

	// CANActuation drives the doors with actuation frames through the CAN
	// port when no Actuator is given.
	CANActuation bool
}

// Controller is one door controller: the kernel components plus the
// cycle that runs them in a fixed order. All kernel state is owned by the
// goroutine calling Step or Run.
type Controller struct {
	clock  Clock
	logger Logger

	port      *CANPort
	sensor    *CANSpeedSensor
	registry  *FaultRegistry
	monitor   *SafetyMonitor
	processor *CommandProcessor
	doors     *DoorFSM
	status    *StatusReporter

	requests   chan Request
	statusHook func(DoorStatus)

	periodMs uint32
	lastStep uint32
	stepped  bool
	overrun  bool
}

func NewController(opts ControllerOptions) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	period := opts.CyclePeriodMs
	if period == 0 {
		period = DefaultCyclePeriodMs
	}
	logger := loggerOrNop(opts.Logger)

	c := &Controller{
		clock:    clock,
		logger:   logger,
		requests: make(chan Request, requestQueueSize),
		periodMs: period,
	}

	c.port = NewCANPort(opts.Publisher, opts.CANQueueSize, logger)
	c.sensor = NewCANSpeedSensor(clock)
	c.registry = NewFaultRegistry(clock, logger)
	c.monitor = NewSafetyMonitor(c.sensor, c.registry, logger)
	actuator := opts.Actuator
	if actuator == nil && opts.CANActuation {
		actuator = NewCANDoorActuator(c.port)
	}
	c.doors = NewDoorFSM(c.monitor, DoorFSMOptions{
		TravelMs:  opts.DoorTravelMs,
		Actuator:  actuator,
		Obstacles: opts.Obstacles,
		Faults:    c.registry,
		Logger:    logger,
	})
	c.processor = NewCommandProcessor(c.doors, c.registry, logger)
	c.status = NewStatusReporter(c.doors, c.monitor, c.processor, c.registry,
		c.port, opts.StatusPeriodMs, logger)

	return c
}

// Port is the CAN handler to subscribe to the bus
func (c *Controller) Port() *CANPort { return c.port }

func (c *Controller) Faults() *FaultRegistry { return c.registry }

func (c *Controller) Monitor() *SafetyMonitor { return c.monitor }

func (c *Controller) Processor() *CommandProcessor { return c.processor }

func (c *Controller) Doors() *DoorFSM { return c.doors }

// Status returns the last door status snapshot with the link counters
func (c *Controller) Status() DoorStatus {
	s := c.status.Status()
	s.CAN = c.port.Stats()
	s.StatusTx, s.StatusTxErrors = c.status.Counters()
	return s
}

// SetStatusHook installs a callback run on the cycle goroutine after
// every step. It must not block.
func (c *Controller) SetStatusHook(hook func(DoorStatus)) {
	c.statusHook = hook
}

// Submit queues a request for the next cycle. It never blocks.
func (c *Controller) Submit(req Request) error {
	select {
	case c.requests <- req:
		return nil
	default:
		return ErrTimeout
	}
}

// Step runs one control cycle at time now
func (c *Controller) Step(now uint32) {
	if c.stepped {
		if gap := elapsedMs(now, c.lastStep); gap > 2*c.periodMs {
			if !c.overrun {
				c.logger.Error("Control cycle overrun: %d ms since last cycle (period %d ms)", gap, c.periodMs)
			}
			c.overrun = true
			c.registry.ReportFault(FaultCycleOverrun, SeverityCritical)
		} else {
			c.overrun = false
		}
	}
	c.lastStep = now
	c.stepped = true

	c.drainFrames(now)
	c.drainRequests()

	c.monitor.Update(now)
	c.processor.Update(now)
	c.doors.Update(now)
	c.registry.Update(now)
	if err := c.status.Update(now); err != nil {
		c.logger.Debug("Status update: %v", err)
	}

	if c.statusHook != nil {
		c.statusHook(c.Status())
	}
}

// drainFrames consumes at most one queue's worth of frames per cycle
func (c *Controller) drainFrames(now uint32) {
	for i := 0; i < cap(c.port.rx) && c.port.RxReady(); i++ {
		frame, err := c.port.Receive()
		if err != nil {
			return
		}
		switch frame.ID {
		case CANIDSpeedData:
			c.sensor.HandleFrame(frame)
		case CANIDDoorCommand:
			if err := c.processor.ProcessCANCommand(frame, now); err != nil {
				c.logger.Warn("Rejected CAN door command: %v", err)
				if errors.Is(err, ErrCommunicationFailure) {
					c.registry.ReportFault(FaultCANCommandChecksum, SeverityMinor)
				}
			}
		}
	}
}

func (c *Controller) drainRequests() {
	for {
		select {
		case req := <-c.requests:
			c.apply(req)
		default:
			return
		}
	}
}

func (c *Controller) apply(req Request) {
	var err error
	if req.SetMode {
		err = c.processor.SetMode(req.Mode)
	} else {
		err = c.processor.ProcessDriverCommand(req.Command)
	}
	if err != nil {
		c.logger.Warn("Rejected request %+v: %v", req, err)
	}
}

// Run steps the controller every cycle period until ctx is cancelled
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(c.periodMs) * time.Millisecond)
	defer ticker.Stop()

	c.logger.Info("Control cycle started (period %d ms)", c.periodMs)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Control cycle stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Step(c.clock.NowMs())
		}
	}
}
