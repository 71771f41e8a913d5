package interlock

// Speeds are in units of 0.1 km/h
const (
	SpeedMaxPlausible          = 3000
	SpeedDisagreementThreshold = 100
	SpeedSafeToOpen            = 10
	SpeedLockThreshold         = 50
	SpeedUnlockThreshold       = 20
	UnlockHysteresisMs         = 1000

	// SpeedUnknown is reported when no sensor can be trusted
	SpeedUnknown uint16 = 0xFFFF
)

// SafetyVerdict is the fused speed and the lock decisions derived from it
type SafetyVerdict struct {
	Speed          uint16
	PrimaryValid   bool
	SecondaryValid bool
	IsSafeToOpen   bool
	ShouldLock     bool
	ShouldUnlock   bool

	HysteresisActive bool
	HysteresisStart  uint32
}

func failSafeVerdict() SafetyVerdict {
	return SafetyVerdict{
		Speed:        SpeedUnknown,
		IsSafeToOpen: false,
		ShouldLock:   true,
		ShouldUnlock: false,
	}
}

// SafetyMonitor fuses the redundant speed sensors once per cycle
type SafetyMonitor struct {
	verdict SafetyVerdict

	sensor SpeedSensor
	faults FaultReporter
	logger Logger

	initialised bool
}

func NewSafetyMonitor(sensor SpeedSensor, faults FaultReporter, logger Logger) *SafetyMonitor {
	m := &SafetyMonitor{
		sensor: sensor,
		faults: faults,
		logger: loggerOrNop(logger),
	}
	m.Init()
	return m
}

// Init restores the fail-safe defaults: locked, not safe to open.
func (m *SafetyMonitor) Init() error {
	if m == nil {
		return ErrNullPointer
	}
	m.verdict = failSafeVerdict()
	m.initialised = false
	return nil
}

// Update reads both sensors and recomputes the verdict. Sensor failures are
// absorbed into the verdict and the fault registry; they are never returned.
func (m *SafetyMonitor) Update(now uint32) error {
	if m == nil {
		return ErrNullPointer
	}

	var primary, secondary uint16
	var err error
	if m.sensor != nil {
		primary, secondary, err = m.sensor.ReadSpeed()
	} else {
		err = ErrHardwareFailure
	}

	primaryValid := err == nil && primary <= SpeedMaxPlausible
	secondaryValid := err == nil && secondary <= SpeedMaxPlausible

	if m.initialised {
		if primaryValid != m.verdict.PrimaryValid || secondaryValid != m.verdict.SecondaryValid {
			m.logger.Info("Speed sensor health changed: primary=%v secondary=%v (err=%v)",
				primaryValid, secondaryValid, err)
		}
	}
	m.initialised = true

	v := &m.verdict
	v.PrimaryValid = primaryValid
	v.SecondaryValid = secondaryValid

	switch {
	case primaryValid && secondaryValid:
		v.Speed = fuseSpeeds(primary, secondary)
	case primaryValid:
		v.Speed = primary
		m.report(FaultSpeedSecondary, SeverityMinor)
	case secondaryValid:
		v.Speed = secondary
		m.report(FaultSpeedPrimary, SeverityMinor)
	default:
		v.Speed = SpeedUnknown
		m.report(FaultSpeedBoth, SeverityCritical)
	}

	if !primaryValid && !secondaryValid {
		v.IsSafeToOpen = false
		v.ShouldLock = true
		v.HysteresisActive = false
		v.ShouldUnlock = false
		return nil
	}

	v.IsSafeToOpen = v.Speed < SpeedSafeToOpen
	v.ShouldLock = v.Speed > SpeedLockThreshold

	if v.Speed < SpeedUnlockThreshold {
		if !v.HysteresisActive {
			v.HysteresisActive = true
			v.HysteresisStart = now
		}
		v.ShouldUnlock = elapsedMs(now, v.HysteresisStart) >= UnlockHysteresisMs
	} else {
		v.HysteresisActive = false
		v.ShouldUnlock = false
	}

	return nil
}

// fuseSpeeds averages agreeing readings and takes the higher one otherwise
func fuseSpeeds(primary, secondary uint16) uint16 {
	var diff uint16
	if primary > secondary {
		diff = primary - secondary
	} else {
		diff = secondary - primary
	}
	if diff > SpeedDisagreementThreshold {
		if primary > secondary {
			return primary
		}
		return secondary
	}
	return uint16((uint32(primary) + uint32(secondary)) / 2)
}

func (m *SafetyMonitor) report(code FaultCode, severity FaultSeverity) {
	if m.faults == nil {
		return
	}
	if err := m.faults.ReportFault(code, severity); err != nil {
		m.logger.Error("Failed to report fault 0x%04X: %v", code, err)
	}
}

func (m *SafetyMonitor) sensorsFailed() bool {
	return !m.verdict.PrimaryValid && !m.verdict.SecondaryValid
}

func (m *SafetyMonitor) IsSafeToOpen() bool {
	if m == nil || m.sensorsFailed() {
		return false
	}
	return m.verdict.IsSafeToOpen
}

func (m *SafetyMonitor) ShouldLock() bool {
	if m == nil || m.sensorsFailed() {
		return true
	}
	return m.verdict.ShouldLock
}

func (m *SafetyMonitor) ShouldUnlock() bool {
	if m == nil || m.sensorsFailed() || !m.verdict.HysteresisActive {
		return false
	}
	return m.verdict.ShouldUnlock
}

// Speed returns the fused speed, or SpeedUnknown for a nil monitor
func (m *SafetyMonitor) Speed() uint16 {
	if m == nil {
		return SpeedUnknown
	}
	return m.verdict.Speed
}

func (m *SafetyMonitor) SensorHealth() (primary, secondary bool, err error) {
	if m == nil {
		return false, false, ErrNullPointer
	}
	return m.verdict.PrimaryValid, m.verdict.SecondaryValid, nil
}

// Verdict returns a copy of the current verdict
func (m *SafetyMonitor) Verdict() SafetyVerdict {
	if m == nil {
		return failSafeVerdict()
	}
	return m.verdict
}
