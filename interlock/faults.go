package interlock

// FaultCode identifies a fault condition. The high byte is the subsystem.
type FaultCode uint16

const (
	FaultNone FaultCode = 0x0000

	// Speed sensing
	FaultSpeedPrimary   FaultCode = 0x0101
	FaultSpeedSecondary FaultCode = 0x0102
	FaultSpeedBoth      FaultCode = 0x0103

	// Bus
	FaultCANCommandTimeout  FaultCode = 0x0201
	FaultCANCommandChecksum FaultCode = 0x0202
	FaultStatusTx           FaultCode = 0x0203

	// Control cycle
	FaultCycleOverrun FaultCode = 0x0301

	// Doors
	FaultDoorEventRejected FaultCode = 0x0401
	FaultDoorActuator      FaultCode = 0x0402
	FaultDoorObstruction   FaultCode = 0x0403
)

type FaultSeverity uint8

const (
	SeverityMinor FaultSeverity = iota
	SeverityCritical
	severityCount
)

func (s FaultSeverity) String() string {
	switch s {
	case SeverityMinor:
		return "minor"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

type FaultConfig struct {
	Code        FaultCode
	Description string
	Severity    FaultSeverity
}

var faultConfigs = map[FaultCode]FaultConfig{
	FaultSpeedPrimary:       {FaultSpeedPrimary, "Primary speed sensor invalid", SeverityMinor},
	FaultSpeedSecondary:     {FaultSpeedSecondary, "Secondary speed sensor invalid", SeverityMinor},
	FaultSpeedBoth:          {FaultSpeedBoth, "Both speed sensors invalid", SeverityCritical},
	FaultCANCommandTimeout:  {FaultCANCommandTimeout, "CAN door command timeout", SeverityMinor},
	FaultCANCommandChecksum: {FaultCANCommandChecksum, "CAN door command checksum error", SeverityMinor},
	FaultStatusTx:           {FaultStatusTx, "Door status transmit failed", SeverityMinor},
	FaultCycleOverrun:       {FaultCycleOverrun, "Control cycle overrun", SeverityCritical},
	FaultDoorEventRejected:  {FaultDoorEventRejected, "Door event rejected", SeverityMinor},
	FaultDoorActuator:       {FaultDoorActuator, "Door actuator failure", SeverityCritical},
	FaultDoorObstruction:    {FaultDoorObstruction, "Door obstructed", SeverityMinor},
}

func GetFaultConfig(code FaultCode) (FaultConfig, bool) {
	config, ok := faultConfigs[code]
	return config, ok
}

// Describe returns a human readable description of a fault code
func Describe(code FaultCode) string {
	if config, ok := faultConfigs[code]; ok {
		return config.Description
	}
	return "Unknown fault"
}

const (
	FaultLogSize      = 32
	FaultAgeTimeoutMs = 10000
)

type FaultEntry struct {
	Code      FaultCode
	Severity  FaultSeverity
	Timestamp uint32
	Active    bool
}

// FaultListener is notified when a fault enters or leaves the registry
type FaultListener interface {
	FaultRaised(code FaultCode, severity FaultSeverity)
	FaultCleared(code FaultCode)
}

// FaultRegistry is a fixed-size log of active faults. Duplicate reports
// refresh the existing entry; entries not refreshed within
// FaultAgeTimeoutMs are aged out by Update.
type FaultRegistry struct {
	log            [FaultLogSize]FaultEntry
	count          int
	head           int
	criticalActive bool

	clock    Clock
	logger   Logger
	listener FaultListener
}

func NewFaultRegistry(clock Clock, logger Logger) *FaultRegistry {
	r := &FaultRegistry{
		clock:  clock,
		logger: loggerOrNop(logger),
	}
	r.Init()
	return r
}

// SetListener installs the raised/cleared observer. Pass nil to remove it.
func (r *FaultRegistry) SetListener(listener FaultListener) {
	if r != nil {
		r.listener = listener
	}
}

func (r *FaultRegistry) Init() error {
	if r == nil {
		return ErrNullPointer
	}
	r.log = [FaultLogSize]FaultEntry{}
	r.count = 0
	r.head = 0
	r.criticalActive = false
	return nil
}

func (r *FaultRegistry) now() uint32 {
	if r.clock == nil {
		return 0
	}
	return r.clock.NowMs()
}

// ReportFault records a fault or refreshes it if already active. A full
// log drops the report without error.
func (r *FaultRegistry) ReportFault(code FaultCode, severity FaultSeverity) error {
	if r == nil {
		return ErrNullPointer
	}
	if severity >= severityCount {
		return ErrInvalidParameter
	}

	now := r.now()

	if i := r.find(code); i >= 0 {
		entry := &r.log[i]
		entry.Timestamp = now
		if severity == SeverityCritical && entry.Severity != SeverityCritical {
			entry.Severity = SeverityCritical
			r.recomputeCritical()
			r.logger.Warn("Fault 0x%04X (%s) escalated to critical", code, Describe(code))
		}
		return nil
	}

	if r.count >= FaultLogSize {
		r.logger.Debug("Fault log full, dropping 0x%04X", code)
		return nil
	}

	for n := 0; n < FaultLogSize; n++ {
		idx := (r.head + n) % FaultLogSize
		if r.log[idx].Active {
			continue
		}
		r.log[idx] = FaultEntry{
			Code:      code,
			Severity:  severity,
			Timestamp: now,
			Active:    true,
		}
		r.head = (idx + 1) % FaultLogSize
		r.count++
		if severity == SeverityCritical {
			r.criticalActive = true
		}
		r.logger.Warn("Fault raised: 0x%04X %s (%s)", code, Describe(code), severity)
		if r.listener != nil {
			r.listener.FaultRaised(code, severity)
		}
		return nil
	}

	// count said there was room but no slot was free; resync
	r.resync()
	return nil
}

// Update ages out entries not refreshed for more than FaultAgeTimeoutMs
func (r *FaultRegistry) Update(now uint32) error {
	if r == nil {
		return ErrNullPointer
	}
	for i := range r.log {
		entry := &r.log[i]
		if !entry.Active {
			continue
		}
		if elapsedMs(now, entry.Timestamp) > FaultAgeTimeoutMs {
			r.deactivate(i)
			r.logger.Info("Fault aged out: 0x%04X %s", entry.Code, Describe(entry.Code))
		}
	}
	r.recomputeCritical()
	return nil
}

// ClearFault removes an active fault. Clearing an inactive code returns
// ErrInvalidParameter.
func (r *FaultRegistry) ClearFault(code FaultCode) error {
	if r == nil {
		return ErrNullPointer
	}
	i := r.find(code)
	if i < 0 {
		return ErrInvalidParameter
	}
	r.deactivate(i)
	r.recomputeCritical()
	r.logger.Info("Fault cleared: 0x%04X %s", code, Describe(code))
	return nil
}

// IsCriticalFaultActive returns true for a nil registry
func (r *FaultRegistry) IsCriticalFaultActive() bool {
	if r == nil {
		return true
	}
	return r.criticalActive
}

// ActiveFaults copies active codes into buf in slot order and returns the
// number copied.
func (r *FaultRegistry) ActiveFaults(buf []FaultCode) int {
	if r == nil || len(buf) == 0 {
		return 0
	}
	n := 0
	for i := range r.log {
		if n >= len(buf) {
			break
		}
		if r.log[i].Active {
			buf[n] = r.log[i].Code
			n++
		}
	}
	return n
}

// Count returns the number of active entries
func (r *FaultRegistry) Count() int {
	if r == nil {
		return 0
	}
	return r.count
}

// Entries returns a copy of the active entries in slot order
func (r *FaultRegistry) Entries() []FaultEntry {
	if r == nil {
		return nil
	}
	entries := make([]FaultEntry, 0, r.count)
	for _, e := range r.log {
		if e.Active {
			entries = append(entries, e)
		}
	}
	return entries
}

func (r *FaultRegistry) find(code FaultCode) int {
	for i := range r.log {
		if r.log[i].Active && r.log[i].Code == code {
			return i
		}
	}
	return -1
}

func (r *FaultRegistry) deactivate(i int) {
	code := r.log[i].Code
	r.log[i].Active = false
	if r.count > 0 {
		r.count--
	}
	if r.listener != nil {
		r.listener.FaultCleared(code)
	}
}

func (r *FaultRegistry) recomputeCritical() {
	r.criticalActive = false
	for i := range r.log {
		if r.log[i].Active && r.log[i].Severity == SeverityCritical {
			r.criticalActive = true
			return
		}
	}
}

func (r *FaultRegistry) resync() {
	n := 0
	for i := range r.log {
		if r.log[i].Active {
			n++
		}
	}
	r.count = n
	r.recomputeCritical()
}
