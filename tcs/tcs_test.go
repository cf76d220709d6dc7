package tcs

import (
	"testing"

	"github.com/enocean-oss/lon-core/npdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransBusyRefuses(t *testing.T) {
	a := NewAllocator(false)
	dest := npdu.SubnetNode(1, 2)
	_, err := a.NewTrans(0, npdu.DomainID{}, dest)
	require.NoError(t, err)

	_, err = a.NewTrans(0, npdu.DomainID{}, dest)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestNewTransAvoidsCollisionWithSameDestination(t *testing.T) {
	a := NewAllocator(false)
	dest := npdu.SubnetNode(1, 2)

	tid1, err := a.NewTrans(0, npdu.DomainID{}, dest)
	require.NoError(t, err)
	a.TransDone()

	tid2, err := a.NewTrans(1000, npdu.DomainID{}, dest)
	require.NoError(t, err)
	assert.NotEqual(t, tid1, tid2)
}

func TestNewTransLegacyWrapsSkippingZero(t *testing.T) {
	a := NewAllocator(false)
	a.nextTID = 15
	dest := npdu.Broadcast(0)

	tid, err := a.NewTrans(0, npdu.DomainID{}, dest)
	require.NoError(t, err)
	assert.Equal(t, uint16(15), tid)
	a.TransDone()
	assert.Equal(t, uint16(1), a.nextTID)
}

func TestValidateTrans(t *testing.T) {
	a := NewAllocator(false)
	dest := npdu.Multicast(5)
	tid, err := a.NewTrans(0, npdu.DomainID{}, dest)
	require.NoError(t, err)

	assert.Equal(t, Current, a.ValidateTrans(tid))
	assert.Equal(t, NotCurrent, a.ValidateTrans(tid+1))

	a.TransDone()
	assert.Equal(t, NotCurrent, a.ValidateTrans(tid))
}

func TestTableFullWithoutEvictableEntryFails(t *testing.T) {
	a := NewAllocator(false)
	for i := 0; i < TableSize; i++ {
		dest := npdu.SubnetNode(1, uint8(i+1))
		_, err := a.NewTrans(int64(i), npdu.DomainID{}, dest)
		require.NoError(t, err)
		a.TransDone()
	}

	_, err := a.NewTrans(100, npdu.DomainID{}, npdu.SubnetNode(99, 99))
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestTableEvictsAgedEntry(t *testing.T) {
	a := NewAllocator(false)
	for i := 0; i < TableSize; i++ {
		dest := npdu.SubnetNode(1, uint8(i+1))
		_, err := a.NewTrans(0, npdu.DomainID{}, dest)
		require.NoError(t, err)
		a.TransDone()
	}

	_, err := a.NewTrans(MinTableTime, npdu.DomainID{}, npdu.SubnetNode(99, 99))
	assert.NoError(t, err)
}

func TestOverrideTrans(t *testing.T) {
	a := NewAllocator(true)
	a.OverrideTrans(777)
	assert.Equal(t, Current, a.ValidateTrans(777))
}
