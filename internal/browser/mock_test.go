package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jakopako/punchclock/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPage_ClickErrsThenSucceeds(t *testing.T) {
	p := NewMockPage()
	btn := types.ByRole(types.RoleButton, "上班")
	flaky := errors.New("detached")
	clicked := false
	p.SetControl(btn, &MockControl{Visible: true, ClickErrs: []error{flaky}, OnClick: func(*MockPage) { clicked = true }})

	ctx := context.Background()
	assert.ErrorIs(t, p.Click(ctx, btn), flaky)
	assert.False(t, clicked)
	require.NoError(t, p.Click(ctx, btn))
	assert.True(t, clicked)
	assert.Equal(t, 1, p.ClickCount(btn))
}

func TestMockPage_WaitVisible(t *testing.T) {
	p := NewMockPage()
	alert := types.Locator{Role: types.RoleAlert}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.WaitVisible(ctx, alert)
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.SetControl(alert, &MockControl{Visible: false})
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, p.WaitVisible(ctx2, alert), ErrElementNotVisible)
}

func TestMockPage_GeolocationMustPrecedeNavigation(t *testing.T) {
	p := NewMockPage()
	ctx := context.Background()
	require.NoError(t, p.OverrideGeolocation(ctx, types.Coordinates{Latitude: 1, Longitude: 2}))
	require.NoError(t, p.Navigate(ctx, "https://example.com"))
	assert.Error(t, p.OverrideGeolocation(ctx, types.Coordinates{}))
}

func TestMockLauncher_CountsCloses(t *testing.T) {
	l := &MockLauncher{PageToUse: NewMockPage()}
	s, err := l.Launch(context.Background(), LaunchOptions{Headless: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Len(t, l.Sessions, 1)
	assert.Equal(t, 1, l.Sessions[0].Closes())
	assert.True(t, l.Options[0].Headless)
}

func TestMockPage_ExpectResponse(t *testing.T) {
	p := NewMockPage()
	p.Responses = []Response{{URL: "https://portal.nueip.com/login/index/param", Status: 200}}
	w, err := p.ExpectResponse(context.Background(), "**/login**")
	require.NoError(t, err)
	r, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, r.Status)

	w, err = p.ExpectResponse(context.Background(), "**/other")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = w.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
