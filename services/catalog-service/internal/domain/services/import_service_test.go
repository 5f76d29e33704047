package services

import (
	"context"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/cache"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/adapters/storage/memory"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/domain/ports"
	"github.com/athebyme/gomarket-platform/services/catalog-service/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImportService(t *testing.T) (*ImportService, *memory.Store, interfaces.CachePort) {
	t.Helper()
	store := memory.New()
	pipeline, _ := newPipeline(t, store, testConfig())
	c := cache.NewMemoryCache(time.Minute)
	svc := NewImportService(pipeline, store, c, logger.NewNopLogger(), ImportServiceConfig{CancelPollInterval: 10 * time.Millisecond})
	return svc, store, c
}

func dressSource() feed.Source {
	return feed.BytesSource{Filename: "feed.json", Data: []byte(dressFeed)}
}

func TestImportService_StartRunsInBackground(t *testing.T) {
	ctx := context.Background()
	svc, _, c := newImportService(t)

	id, err := svc.Start(ctx, StartRequest{SupplierID: "sup", UserID: "u1", Source: dressSource()})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	svc.Wait()

	run, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Stats.ProductsCreated)

	locked, err := c.Exists(ctx, lockKeyPrefix+"sup")
	require.NoError(t, err)
	assert.False(t, locked, "блокировка снята после завершения")

	progress, err := svc.Progress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, progress.Stage)
	assert.Equal(t, 1, progress.Stats.ProductsCreated)
}

func TestImportService_SupplierLock(t *testing.T) {
	ctx := context.Background()
	svc, _, c := newImportService(t)

	_, ok, err := c.Lock(ctx, lockKeyPrefix+"sup", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Start(ctx, StartRequest{SupplierID: "sup", Source: dressSource()})
	assert.ErrorIs(t, err, ports.ErrImportInProgress)

	// другой поставщик не заблокирован
	result, err := svc.RunSync(ctx, StartRequest{SupplierID: "other", Source: dressSource()})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCompleted, result.Status)
}

func TestImportService_StartValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newImportService(t)

	tests := []struct {
		name    string
		req     StartRequest
		wantErr error
	}{
		{name: "нет поставщика", req: StartRequest{Source: dressSource()}, wantErr: ErrInvalidRequest},
		{name: "неизвестный режим", req: StartRequest{SupplierID: "sup", Mode: "all", Source: dressSource()}, wantErr: ErrInvalidRequest},
		{name: "нет фида", req: StartRequest{SupplierID: "sup"}, wantErr: ErrInvalidRequest},
		{name: "формат yml", req: StartRequest{SupplierID: "sup", Source: feed.BytesSource{Filename: "feed.yml"}}, wantErr: feed.ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Start(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestImportService_Cancel(t *testing.T) {
	ctx := context.Background()
	svc, store, c := newImportService(t)

	assert.ErrorIs(t, svc.Cancel(ctx, "missing"), ErrImportNotFound)

	finished := &models.ImportRun{SupplierID: "sup", Status: models.ImportStatusCompleted}
	require.NoError(t, store.CreateImportRun(ctx, finished))
	assert.ErrorIs(t, svc.Cancel(ctx, finished.ID), ErrImportFinished)

	// импорт другого инстанса отменяется через флаг в кэше
	remote := &models.ImportRun{SupplierID: "other", Status: models.ImportStatusProcessing}
	require.NoError(t, store.CreateImportRun(ctx, remote))
	require.NoError(t, svc.Cancel(ctx, remote.ID))

	flagged, err := c.Exists(ctx, cancelKeyPrefix+remote.ID)
	require.NoError(t, err)
	assert.True(t, flagged)
}

func TestImportService_WatchCancelPicksUpRemoteFlag(t *testing.T) {
	ctx := context.Background()
	svc, _, c := newImportService(t)

	require.NoError(t, c.Set(ctx, cancelKeyPrefix+"imp-1", []byte("1"), time.Minute))

	flag := models.NewCancelFlag()
	done := make(chan struct{})
	defer close(done)

	finished := make(chan struct{})
	go func() {
		svc.watchCancel(ctx, "imp-1", flag, done)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("флаг отмены не был прочитан")
	}
	assert.True(t, flag.Cancelled())
}

func TestImportService_ListAndDiffs(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newImportService(t)

	first, err := svc.RunSync(ctx, StartRequest{SupplierID: "sup", Source: dressSource()})
	require.NoError(t, err)
	second, err := svc.RunSync(ctx, StartRequest{SupplierID: "sup", Source: dressSource()})
	require.NoError(t, err)

	page, err := svc.List(ctx, "sup", 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Pagination.TotalItems)
	assert.True(t, page.Pagination.HasNext)
	runs := page.Items.([]models.ImportRun)
	require.Len(t, runs, 1)
	assert.Equal(t, second.ImportID, runs[0].ID, "новые первыми")

	diffs, err := svc.Diffs(ctx, first.ImportID, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, diffs.Pagination.TotalItems)

	_, err = svc.Diffs(ctx, "missing", 1, 20)
	assert.ErrorIs(t, err, ErrImportNotFound)
}

func TestImportService_Prescan(t *testing.T) {
	svc, store, _ := newImportService(t)

	result, err := svc.Prescan(context.Background(), dressSource())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Products)
	assert.Equal(t, 2, result.Categories)

	list, err := store.ListSupplierCategories(context.Background(), "sup")
	require.NoError(t, err)
	assert.Empty(t, list, "предпросмотр ничего не пишет")
}

func TestImportService_CancelAll(t *testing.T) {
	svc, _, _ := newImportService(t)
	assert.Zero(t, svc.CancelAll())

	first, second := models.NewCancelFlag(), models.NewCancelFlag()
	svc.mu.Lock()
	svc.running["imp-1"] = first
	svc.running["imp-2"] = second
	svc.mu.Unlock()

	assert.Equal(t, 2, svc.CancelAll())
	assert.True(t, first.Cancelled())
	assert.True(t, second.Cancelled())
}

// gatedRuns придерживает создание записи импорта до закрытия gate
type gatedRuns struct {
	*memory.Store
	gate chan struct{}
}

func (s *gatedRuns) CreateImportRun(ctx context.Context, run *models.ImportRun) error {
	<-s.gate
	return s.Store.CreateImportRun(ctx, run)
}

func TestImportService_CancelRightAfterStart(t *testing.T) {
	ctx := context.Background()
	store := &gatedRuns{Store: memory.New(), gate: make(chan struct{})}
	pipeline, _ := newPipeline(t, store, testConfig())
	c := cache.NewMemoryCache(time.Minute)
	svc := NewImportService(pipeline, store, c, logger.NewNopLogger(), ImportServiceConfig{CancelPollInterval: 10 * time.Millisecond})

	id, err := svc.Start(ctx, StartRequest{SupplierID: "sup", Source: dressSource()})
	require.NoError(t, err)

	// записи импорта еще нет, но отмена и остановка процесса его видят
	require.NoError(t, svc.Cancel(ctx, id))
	assert.Equal(t, 1, svc.CancelAll())

	close(store.gate)
	svc.Wait()

	run, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStatusCancelled, run.Status)
	assert.Zero(t, run.Stats.ProductsCreated)
	assert.Zero(t, svc.CancelAll(), "флаг снят с учета после завершения")

	locked, err := c.Exists(ctx, lockKeyPrefix+"sup")
	require.NoError(t, err)
	assert.False(t, locked)
}
