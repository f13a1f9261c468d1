package model

import (
	"testing"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/ocpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectorBootToAvailable(t *testing.T) {
	c := NewConnector(1)
	assert.Equal(t, ocpp.StatusUnavailable, c.Status())

	changed, ok := c.SetStatus(ocpp.StatusAvailable)
	require.True(t, ok)
	assert.True(t, changed)
	assert.Equal(t, ocpp.StatusAvailable, c.Status())
}

func TestConnectorIllegalTransitionRejected(t *testing.T) {
	c := NewConnector(1)
	c.SetStatus(ocpp.StatusAvailable)
	_, ok := c.SetStatus(ocpp.StatusFinishing)
	assert.False(t, ok)
	assert.Equal(t, ocpp.StatusAvailable, c.Status())
}

func TestConnectorSameStatusSuppressed(t *testing.T) {
	c := NewConnector(1)
	c.SetStatus(ocpp.StatusAvailable)
	changed, ok := c.SetStatus(ocpp.StatusAvailable)
	assert.True(t, ok)
	assert.False(t, changed)
}

func TestConnectorFaultFromAnyState(t *testing.T) {
	c := NewConnector(1)
	c.SetStatus(ocpp.StatusAvailable)
	c.SetStatus(ocpp.StatusPreparing)
	changed, ok := c.SetStatus(ocpp.StatusFaulted)
	assert.True(t, ok)
	assert.True(t, changed)
}

func TestConnectorChargingLifecycle(t *testing.T) {
	c := NewConnector(1)
	c.SetStatus(ocpp.StatusAvailable)
	c.SetStatus(ocpp.StatusPreparing)
	_, ok := c.SetStatus(ocpp.StatusCharging)
	require.True(t, ok)

	c.StartTransaction("ref-1", "ABC", 0, time.Now())
	require.NotNil(t, c.Transaction())

	c.AddMeterValue(100)
	assert.Equal(t, 100, c.MeterValue())

	_, ok = c.SetStatus(ocpp.StatusFinishing)
	require.True(t, ok)
	done := c.EndTransaction(c.MeterValue(), time.Now())
	require.NotNil(t, done)
	assert.Equal(t, 100, *done.MeterStop)
	assert.Nil(t, c.Transaction())

	_, ok = c.SetStatus(ocpp.StatusAvailable)
	assert.True(t, ok)
}

func TestConnectorDeferredInoperative(t *testing.T) {
	c := NewConnector(1)
	c.SetStatus(ocpp.StatusAvailable)
	c.SetStatus(ocpp.StatusPreparing)
	c.SetStatus(ocpp.StatusCharging)
	c.StartTransaction("ref-1", "ABC", 0, time.Now())

	deferred := c.SetAvailability(AvailabilityInoperative)
	assert.True(t, deferred)
	assert.Equal(t, AvailabilityOperative, c.Availability())

	c.EndTransaction(0, time.Now())
	c.ResolveDeferredAvailability()
	assert.Equal(t, AvailabilityInoperative, c.Availability())
}

func TestConnectorProfileSelectionHighestStackLevel(t *testing.T) {
	c := NewConnector(1)
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	c.InstallProfile(ActiveChargingProfile{ProfileID: 1, StackLevel: 0, ValidFrom: &past, ValidTo: &future})
	c.InstallProfile(ActiveChargingProfile{ProfileID: 2, StackLevel: 5, ValidFrom: &past, ValidTo: &future})
	c.InstallProfile(ActiveChargingProfile{ProfileID: 3, StackLevel: 2, ValidFrom: &future})

	active := c.ActiveProfile(now)
	require.NotNil(t, active)
	assert.Equal(t, 2, active.ProfileID)
}

func TestConnectorClearProfilesByID(t *testing.T) {
	c := NewConnector(1)
	c.InstallProfile(ActiveChargingProfile{ProfileID: 1, StackLevel: 0})
	c.InstallProfile(ActiveChargingProfile{ProfileID: 2, StackLevel: 1})

	id := 1
	removed := c.ClearProfiles(&id, nil, nil)
	assert.Equal(t, 1, removed)
	assert.Len(t, c.Profiles(), 1)
}

func TestHistoryBoundedFIFO(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record(StateHistoryEntry{
			Entity:   EntityConnector,
			EntityID: 1,
			ToState:  "Available",
			Level:    ValidationOK,
		})
	}
	assert.Equal(t, 3, h.Len())

	entries := h.GetHistory(HistoryFilter{})
	require.Len(t, entries, 3)
	assert.True(t, entries[0].SequenceID < entries[1].SequenceID)
	assert.True(t, entries[1].SequenceID < entries[2].SequenceID)
}

func TestHistoryStatistics(t *testing.T) {
	h := NewHistory(10)
	h.Record(StateHistoryEntry{Entity: EntityConnector, TransitionType: "status", Level: ValidationError})
	h.Record(StateHistoryEntry{Entity: EntityConnector, TransitionType: "status", Level: ValidationWarning})
	h.Record(StateHistoryEntry{Entity: EntityChargePoint, TransitionType: "boot", Level: ValidationOK})

	stats := h.Statistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, 1, stats.WarningCount)
	assert.Equal(t, 2, stats.ByEntity[EntityConnector])
}
