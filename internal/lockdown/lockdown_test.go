package lockdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccess struct {
	mode    Mode
	modeErr error
	setErr  error

	setCalls []Mode
	closed   int
}

func (f *fakeAccess) LockdownMode(ctx context.Context) (Mode, error) {
	return f.mode, f.modeErr
}

func (f *fakeAccess) SetLockdownMode(ctx context.Context, mode Mode) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.setCalls = append(f.setCalls, mode)
	f.mode = mode
	return nil
}

func (f *fakeAccess) Close(ctx context.Context) error {
	f.closed++
	return nil
}

type fakeDialer struct {
	access  *fakeAccess
	dialErr error
	dials   int
}

func (f *fakeDialer) DialDirect(ctx context.Context) (HostAccess, error) {
	f.dials++
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return f.access, nil
}

func TestGetMode(t *testing.T) {
	dialer := &fakeDialer{access: &fakeAccess{mode: ModeNormal}}

	mode, err := NewController(dialer).GetMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, mode)
	assert.Equal(t, 1, dialer.access.closed, "connection must be closed after the call")
}

func TestGetModeRejectsUnknownMode(t *testing.T) {
	dialer := &fakeDialer{access: &fakeAccess{mode: Mode("lockdownPartial")}}

	_, err := NewController(dialer).GetMode(context.Background())
	assert.ErrorContains(t, err, "unknown lockdown mode")
	assert.Equal(t, 1, dialer.access.closed)
}

func TestGetModeDialFailure(t *testing.T) {
	dialer := &fakeDialer{dialErr: errors.New("connection refused")}

	_, err := NewController(dialer).GetMode(context.Background())
	assert.ErrorContains(t, err, "dialing host directly")
}

func TestSetModeChangesAndReportsIt(t *testing.T) {
	dialer := &fakeDialer{access: &fakeAccess{mode: ModeStrict}}

	changed, err := NewController(dialer).SetMode(context.Background(), ModeDisabled)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []Mode{ModeDisabled}, dialer.access.setCalls)
	assert.Equal(t, 1, dialer.access.closed)
}

func TestSetModeIsNoOpWhenAlreadySet(t *testing.T) {
	dialer := &fakeDialer{access: &fakeAccess{mode: ModeNormal}}

	changed, err := NewController(dialer).SetMode(context.Background(), ModeNormal)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, dialer.access.setCalls, "no mutating call expected")
	assert.Equal(t, 1, dialer.access.closed)
}

func TestSetModeRejectsInvalidMode(t *testing.T) {
	dialer := &fakeDialer{access: &fakeAccess{mode: ModeNormal}}

	_, err := NewController(dialer).SetMode(context.Background(), Mode("lockdownPartial"))
	assert.ErrorContains(t, err, "invalid lockdown mode")
	assert.Zero(t, dialer.dials, "invalid mode must be rejected before dialing")
}

func TestSetModeSurfacesChangeFailure(t *testing.T) {
	dialer := &fakeDialer{access: &fakeAccess{mode: ModeNormal, setErr: errors.New("access denied")}}

	_, err := NewController(dialer).SetMode(context.Background(), ModeDisabled)
	assert.ErrorContains(t, err, "changing lockdown mode from Normal to Disabled")
	assert.Equal(t, 1, dialer.access.closed)
}

func TestModeValid(t *testing.T) {
	assert.True(t, ModeDisabled.Valid())
	assert.True(t, ModeNormal.Valid())
	assert.True(t, ModeStrict.Valid())
	assert.False(t, Mode("").Valid())
	assert.False(t, Mode("lockdownNormal").Valid())
}
