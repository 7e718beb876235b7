package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_StartsAtValue(t *testing.T) {
	c := NewManual(1000)
	assert.Equal(t, int64(1000), c.NowMs())
}

func TestManual_SetAndAdvance(t *testing.T) {
	c := NewManual(0)

	c.Set(500)
	assert.Equal(t, int64(500), c.NowMs())

	assert.Equal(t, int64(750), c.AdvanceMs(250))
	assert.Equal(t, int64(1750), c.Advance(time.Second))
	assert.Equal(t, int64(1750), c.NowMs())
}

func TestManual_ThreadSafe(t *testing.T) {
	c := NewManual(0)
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AdvanceMs(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines), c.NowMs())
}

func TestSystem_TracksWallClock(t *testing.T) {
	before := time.Now().UnixMilli()
	got := System().NowMs()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestFunc(t *testing.T) {
	c := Func(func() int64 { return 42 })
	assert.Equal(t, int64(42), c.NowMs())
}

func TestMust_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { Must(nil) })
	assert.NotPanics(t, func() { Must(NewManual(0)) })
}
