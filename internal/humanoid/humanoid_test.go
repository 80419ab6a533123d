// Filename: internal/humanoid/humanoid_test.go
package humanoid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

// =============================================================================
// Test Infrastructure
// =============================================================================

// mockExecutor records every call instead of touching the OS.
type mockExecutor struct {
	mu     sync.Mutex
	calls  []string
	moves  [][2]int
	sleeps []time.Duration

	moveErr    error
	failOnMove int // 1-based move index that returns moveErr
	pressErr   error
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	m.sleeps = append(m.sleeps, d)
	m.mu.Unlock()
	return ctx.Err()
}

func (m *mockExecutor) MoveMouse(ctx context.Context, x, y int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves = append(m.moves, [2]int{x, y})
	m.calls = append(m.calls, "move")
	if m.moveErr != nil && len(m.moves) >= m.failOnMove {
		return m.moveErr
	}
	return nil
}

func (m *mockExecutor) Press(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "press")
	return m.pressErr
}

func (m *mockExecutor) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "release")
	return nil
}

func testConfig() config.HumanoidConfig {
	return config.HumanoidConfig{
		Enabled:         true,
		FittsA:          80,
		FittsB:          90,
		MaxSteps:        40,
		CurveDeviation:  0.08,
		PerlinAmplitude: 1.5,
		PressPause:      80 * time.Millisecond,
		Seed:            42,
	}
}

// =============================================================================
// Trajectory
// =============================================================================

func TestPath_EndsExactlyOnTarget(t *testing.T) {
	h := New(testConfig(), &mockExecutor{}, zaptest.NewLogger(t))
	start, end := V(10, 10), V(900, 640)

	path := h.Path(start, end)
	require.GreaterOrEqual(t, len(path), 2)
	assert.LessOrEqual(t, len(path), 40)
	assert.Equal(t, end, path[len(path)-1])

	// The bow stays within a band around the straight line.
	limit := 0.08*start.Dist(end) + 5
	for _, p := range path {
		assert.Less(t, p.Dist(start)+p.Dist(end)-start.Dist(end), 2*limit)
	}
}

func TestPath_Deterministic(t *testing.T) {
	a := New(testConfig(), &mockExecutor{}, zaptest.NewLogger(t)).Path(V(0, 0), V(500, 500))
	b := New(testConfig(), &mockExecutor{}, zaptest.NewLogger(t)).Path(V(0, 0), V(500, 500))
	assert.Equal(t, a, b)
}

func TestPath_ZeroDistance(t *testing.T) {
	h := New(testConfig(), &mockExecutor{}, zaptest.NewLogger(t))
	assert.Equal(t, []Vector2D{V(5, 5)}, h.Path(V(5, 5), V(5, 5)))
}

func TestMovementTime_FollowsFitts(t *testing.T) {
	h := New(testConfig(), &mockExecutor{}, zaptest.NewLogger(t))
	near := h.movementTime(10)
	far := h.movementTime(2000)
	assert.Less(t, near, far)
	assert.Greater(t, near, 80*time.Millisecond*85/100)
}

// =============================================================================
// Playback
// =============================================================================

func TestMoveTo_LandsOnTarget(t *testing.T) {
	exec := &mockExecutor{}
	h := New(testConfig(), exec, zaptest.NewLogger(t))

	require.NoError(t, h.MoveTo(context.Background(), V(0, 0), V(288, 162)))
	require.NotEmpty(t, exec.moves)
	assert.Equal(t, [2]int{288, 162}, exec.moves[len(exec.moves)-1])
	assert.Len(t, exec.sleeps, len(exec.moves)-1)
}

func TestMoveTo_DisabledJumps(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	exec := &mockExecutor{}
	h := New(cfg, exec, zaptest.NewLogger(t))

	require.NoError(t, h.MoveTo(context.Background(), V(0, 0), V(1288, 662)))
	assert.Equal(t, [][2]int{{1288, 662}}, exec.moves)
	assert.Empty(t, exec.sleeps)
}

func TestMoveTo_Cancelled(t *testing.T) {
	exec := &mockExecutor{}
	h := New(testConfig(), exec, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.MoveTo(ctx, V(0, 0), V(800, 800))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.moves)
}

func TestDrag(t *testing.T) {
	t.Run("press, glide, release", func(t *testing.T) {
		exec := &mockExecutor{}
		h := New(testConfig(), exec, zaptest.NewLogger(t))

		require.NoError(t, h.Drag(context.Background(), V(0, 0), V(100, 100), V(400, 300)))
		pressAt := indexOf(exec.calls, "press")
		releaseAt := indexOf(exec.calls, "release")
		require.True(t, pressAt > 0, "pointer must reach the start before pressing")
		assert.Equal(t, len(exec.calls)-1, releaseAt)
		assert.Equal(t, [2]int{400, 300}, exec.moves[len(exec.moves)-1])
	})

	t.Run("releases when the glide fails", func(t *testing.T) {
		// Direct jumps make the second move the first one after the press.
		cfg := testConfig()
		cfg.Enabled = false
		exec := &mockExecutor{moveErr: errors.New("xdotool died"), failOnMove: 2}
		h := New(cfg, exec, zaptest.NewLogger(t))

		err := h.Drag(context.Background(), V(0, 0), V(100, 100), V(400, 300))
		require.Error(t, err)
		assert.Equal(t, []string{"move", "press", "move", "release"}, exec.calls)
	})
}

func TestPause_WithinBounds(t *testing.T) {
	exec := &mockExecutor{}
	h := New(testConfig(), exec, zaptest.NewLogger(t))
	for i := 0; i < 50; i++ {
		require.NoError(t, h.Pause(context.Background(), 50*time.Millisecond, 200*time.Millisecond))
	}
	for _, d := range exec.sleeps {
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	}
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
