package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koustreak/featureserv/internal/database"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SinglePoolUnderConcurrentFirstUse(t *testing.T) {
	var opened atomic.Int32
	reg := NewRegistry()
	reg.open = func(ctx context.Context, cfg *database.Config) (*Driver, error) {
		opened.Add(1)
		time.Sleep(10 * time.Millisecond)
		mock, err := pgxmock.NewPool()
		if err != nil {
			return nil, err
		}
		return NewFromPool(mock), nil
	}
	t.Cleanup(reg.Close)

	cfg := database.DefaultConfig("postgres://localhost/gis")

	const callers = 16
	drivers := make([]*Driver, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := reg.Get(context.Background(), cfg)
			assert.NoError(t, err)
			drivers[i] = d
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	for _, d := range drivers {
		assert.Same(t, drivers[0], d)
	}

	again, err := reg.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, drivers[0], again)
	assert.Equal(t, int32(1), opened.Load())
}

func TestRegistry_DistinctKeys(t *testing.T) {
	reg := NewRegistry()
	reg.open = func(ctx context.Context, cfg *database.Config) (*Driver, error) {
		mock, err := pgxmock.NewPool()
		if err != nil {
			return nil, err
		}
		return NewFromPool(mock), nil
	}
	t.Cleanup(reg.Close)

	a, err := reg.Get(context.Background(), database.DefaultConfig("postgres://a/gis"))
	require.NoError(t, err)
	b, err := reg.Get(context.Background(), database.DefaultConfig("postgres://b/gis"))
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_FailedOpenIsRetried(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	reg.open = func(ctx context.Context, cfg *database.Config) (*Driver, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("database starting up")
		}
		mock, err := pgxmock.NewPool()
		if err != nil {
			return nil, err
		}
		return NewFromPool(mock), nil
	}
	t.Cleanup(reg.Close)

	cfg := database.DefaultConfig("postgres://localhost/gis")
	_, err := reg.Get(context.Background(), cfg)
	require.Error(t, err)

	d, err := reg.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, d)
}
