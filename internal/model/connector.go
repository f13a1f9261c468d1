// Package model holds the Charge Point data model: connectors,
// transactions, active charging profiles, and the connector status
// transition validator.
package model

import (
	"sort"
	"sync"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
)

// Availability is a connector's OCPP availability state, distinct from
// its operational Status.
type Availability string

const (
	AvailabilityOperative   Availability = "Operative"
	AvailabilityInoperative Availability = "Inoperative"
)

// Transaction tracks one charging session on a connector. TransactionID
// is zero until the CSMS accepts StartTransaction.
type Transaction struct {
	ClientRef     string
	TransactionID int
	IdTag         string
	MeterStart    int
	StartTime     time.Time
	MeterStop     *int
	StopTime      *time.Time
	MeterSent     bool
}

// ActiveChargingProfile is an installed SetChargingProfile, retained on
// a connector until cleared or superseded.
type ActiveChargingProfile struct {
	ProfileID    int
	ConnectorID  int
	StackLevel   int
	Purpose      ocpp.ChargingProfilePurpose
	Kind         ocpp.ChargingProfileKind
	Unit         ocpp.ChargingRateUnit
	Recurrency   *ocpp.RecurrencyKind
	ValidFrom    *time.Time
	ValidTo      *time.Time
	Schedule     []ocpp.ChargingSchedulePeriod
}

// activeAt reports whether p's validity window contains t.
func (p ActiveChargingProfile) activeAt(t time.Time) bool {
	if p.ValidFrom != nil && t.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && t.After(*p.ValidTo) {
		return false
	}
	return true
}

// transitions enumerates the legal status jumps per spec; any pair not
// listed here is rejected by Validate.
var transitions = map[ocpp.ChargePointStatus]map[ocpp.ChargePointStatus]bool{
	ocpp.StatusUnavailable: {
		ocpp.StatusAvailable: true,
	},
	ocpp.StatusAvailable: {
		ocpp.StatusPreparing:   true,
		ocpp.StatusUnavailable: true,
		ocpp.StatusFaulted:     true,
		ocpp.StatusReserved:    true,
	},
	ocpp.StatusPreparing: {
		ocpp.StatusCharging:    true,
		ocpp.StatusAvailable:   true,
		ocpp.StatusUnavailable: true,
		ocpp.StatusFaulted:     true,
	},
	ocpp.StatusCharging: {
		ocpp.StatusSuspendedEVSE: true,
		ocpp.StatusSuspendedEV:   true,
		ocpp.StatusFinishing:     true,
		ocpp.StatusUnavailable:   true,
		ocpp.StatusFaulted:       true,
	},
	ocpp.StatusSuspendedEVSE: {
		ocpp.StatusCharging:    true,
		ocpp.StatusFinishing:   true,
		ocpp.StatusUnavailable: true,
		ocpp.StatusFaulted:     true,
	},
	ocpp.StatusSuspendedEV: {
		ocpp.StatusCharging:    true,
		ocpp.StatusFinishing:   true,
		ocpp.StatusUnavailable: true,
		ocpp.StatusFaulted:     true,
	},
	ocpp.StatusFinishing: {
		ocpp.StatusAvailable:   true,
		ocpp.StatusUnavailable: true,
		ocpp.StatusFaulted:     true,
	},
	ocpp.StatusReserved: {
		ocpp.StatusAvailable:   true,
		ocpp.StatusPreparing:   true,
		ocpp.StatusUnavailable: true,
		ocpp.StatusFaulted:     true,
	},
	ocpp.StatusFaulted: {
		ocpp.StatusAvailable: true,
	},
}

// CanTransition reports whether from->to is a legal jump. A fault
// transition is legal from any status; same->same is always legal
// (callers suppress the resulting notification themselves).
func CanTransition(from, to ocpp.ChargePointStatus) bool {
	if from == to {
		return true
	}
	if to == ocpp.StatusFaulted {
		return true
	}
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// HasTransaction reports whether status implies a live transaction per
// the data model invariant.
func HasTransaction(status ocpp.ChargePointStatus) bool {
	switch status {
	case ocpp.StatusCharging, ocpp.StatusSuspendedEVSE, ocpp.StatusSuspendedEV, ocpp.StatusFinishing:
		return true
	default:
		return false
	}
}

// Connector is one physical outlet of a Charge Point.
type Connector struct {
	mu sync.RWMutex

	id           int
	status       ocpp.ChargePointStatus
	availability Availability
	errorCode    ocpp.ChargePointErrorCode
	info         string
	meterWh      int
	transaction  *Transaction
	profiles     []ActiveChargingProfile

	pendingInoperative bool
}

// NewConnector builds a Connector in its boot-time state: Unavailable,
// Operative, zero meter.
func NewConnector(id int) *Connector {
	return &Connector{
		id:           id,
		status:       ocpp.StatusUnavailable,
		availability: AvailabilityOperative,
		errorCode:    ocpp.ErrorCodeNoError,
	}
}

func (c *Connector) ID() int { return c.id }

func (c *Connector) Status() ocpp.ChargePointStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connector) Availability() Availability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.availability
}

// SetStatus applies a status change if legal, returning (changed, ok).
// changed is false on a suppressed same->same transition; ok is false
// when the jump itself is illegal and the status is left untouched.
func (c *Connector) SetStatus(to ocpp.ChargePointStatus) (changed bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.status
	if !CanTransition(from, to) {
		return false, false
	}
	if from == to {
		return false, true
	}
	c.status = to
	return true, true
}

// ForceStatus sets status unconditionally, regardless of the transition
// graph. A hard Reset uses it to put every connector to Unavailable;
// update_connector_status goes through the validated SetStatus path.
func (c *Connector) ForceStatus(to ocpp.ChargePointStatus) (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == to {
		return false
	}
	c.status = to
	return true
}

func (c *Connector) SetError(code ocpp.ChargePointErrorCode, info string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCode = code
	c.info = info
}

func (c *Connector) ErrorCode() ocpp.ChargePointErrorCode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errorCode
}

// SetAvailability updates the connector's availability. If to is
// Inoperative and a transaction is active, the change is deferred: it
// returns deferred=true and flags pendingInoperative so that
// ResolveDeferredAvailability can apply it once the transaction ends.
func (c *Connector) SetAvailability(to Availability) (deferred bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to == AvailabilityInoperative && c.transaction != nil {
		c.pendingInoperative = true
		return true
	}
	c.availability = to
	c.pendingInoperative = false
	return false
}

// ResolveDeferredAvailability applies a pending Inoperative transition
// once a transaction ends, if one was deferred.
func (c *Connector) ResolveDeferredAvailability() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingInoperative {
		c.availability = AvailabilityInoperative
		c.pendingInoperative = false
	}
}

// StartTransaction installs a new in-flight transaction under clientRef,
// the caller-supplied reference used until the CSMS assigns a real
// TransactionID.
func (c *Connector) StartTransaction(clientRef, idTag string, meterStart int, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transaction = &Transaction{
		ClientRef:  clientRef,
		IdTag:      idTag,
		MeterStart: meterStart,
		StartTime:  start,
	}
}

func (c *Connector) SetTransactionID(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transaction != nil {
		c.transaction.TransactionID = id
	}
}

func (c *Connector) Transaction() *Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.transaction == nil {
		return nil
	}
	cp := *c.transaction
	return &cp
}

// EndTransaction clears the active transaction, recording stop data on
// a copy returned to the caller for use in StopTransaction.
func (c *Connector) EndTransaction(meterStop int, stop time.Time) *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transaction == nil {
		return nil
	}
	t := c.transaction
	t.MeterStop = &meterStop
	t.StopTime = &stop
	done := *t
	c.transaction = nil
	return &done
}

// SetMeterValue overwrites the absolute meter reading.
func (c *Connector) SetMeterValue(wh int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meterWh = wh
}

// AddMeterValue increases the meter by delta, used by the auto-meter
// timer; only legal while Charging per the monotonicity invariant, but
// the caller is responsible for gating on status.
func (c *Connector) AddMeterValue(delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meterWh += delta
	return c.meterWh
}

func (c *Connector) MeterValue() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meterWh
}

// InstallProfile adds or replaces a profile by ProfileID, keeping the
// list sorted by StackLevel descending per the selection rule.
func (c *Connector) InstallProfile(p ActiveChargingProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.profiles {
		if existing.ProfileID == p.ProfileID {
			c.profiles[i] = p
			c.sortProfilesLocked()
			return
		}
	}
	c.profiles = append(c.profiles, p)
	c.sortProfilesLocked()
}

func (c *Connector) sortProfilesLocked() {
	sort.SliceStable(c.profiles, func(i, j int) bool {
		return c.profiles[i].StackLevel > c.profiles[j].StackLevel
	})
}

// ClearProfiles removes profiles matching the given filter; any nil
// filter field matches everything. Returns the count removed.
func (c *Connector) ClearProfiles(id *int, purpose *ocpp.ChargingProfilePurpose, stackLevel *int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.profiles[:0]
	removed := 0
	for _, p := range c.profiles {
		match := true
		if id != nil && p.ProfileID != *id {
			match = false
		}
		if purpose != nil && p.Purpose != *purpose {
			match = false
		}
		if stackLevel != nil && p.StackLevel != *stackLevel {
			match = false
		}
		if match {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	c.profiles = kept
	return removed
}

// ActiveProfile returns the profile with the highest stack level whose
// validity window contains at, or nil if none applies.
func (c *Connector) ActiveProfile(at time.Time) *ActiveChargingProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.profiles {
		if p.activeAt(at) {
			cp := p
			return &cp
		}
	}
	return nil
}

func (c *Connector) Profiles() []ActiveChargingProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ActiveChargingProfile, len(c.profiles))
	copy(out, c.profiles)
	return out
}
