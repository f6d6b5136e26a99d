package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"subscription-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrialService(t *testing.T) *TrialService {
	t.Helper()
	svc := NewTrialService(newTestStore(t), 0)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestTrialStatus_FirstCheckStartsTrial(t *testing.T) {
	svc := newTestTrialService(t)
	ctx := context.Background()

	status, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.IsInTrial)
	require.NotNil(t, status.TrialEndTime)
	assert.WithinDuration(t, testNow.Add(DefaultTrialDuration), *status.TrialEndTime, time.Second)

	// a later check keeps the original window
	svc.now = func() time.Time { return testNow.Add(time.Hour) }
	again, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, again.IsInTrial)
	assert.True(t, again.TrialEndTime.Equal(*status.TrialEndTime))

	var count int64
	require.NoError(t, svc.store.DB().Model(&models.UserTrial{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTrialStatus_Expired(t *testing.T) {
	svc := newTestTrialService(t)
	ctx := context.Background()

	_, err := svc.Status(ctx, "u1")
	require.NoError(t, err)

	svc.now = func() time.Time { return testNow.Add(DefaultTrialDuration + time.Minute) }
	status, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.IsInTrial)
	assert.NotNil(t, status.TrialEndTime)
}

func TestTrialStatus_UsedTrial(t *testing.T) {
	svc := newTestTrialService(t)
	ctx := context.Background()
	require.NoError(t, svc.store.DB().Create(&models.UserTrial{
		UserID: "u1", TrialEndTime: testNow.Add(time.Hour), IsTrialUsed: true,
	}).Error)

	status, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.IsInTrial)
}

func TestTrialStatus_SubscriberNeverGetsTrial(t *testing.T) {
	svc := newTestTrialService(t)
	ctx := context.Background()
	sub := models.Subscription{
		UserID: "u1", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1",
		Status: models.StatusTrialing, CurrentPeriodEnd: testNow.Add(time.Hour),
	}
	require.NoError(t, svc.store.CreateOrUpdateSubscription(ctx, &sub))

	status, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.IsInTrial)
	assert.Nil(t, status.TrialEndTime)

	_, err = svc.store.GetTrial(ctx, "u1")
	assert.Error(t, err)
}

func TestTrialStatus_ConcurrentFirstChecksAgree(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// different clocks so each caller would pick its own end time without convergence
	resolvers := make([]*TrialService, 2)
	for i := range resolvers {
		offset := time.Duration(i) * time.Minute
		resolvers[i] = NewTrialService(store, 0)
		resolvers[i].now = func() time.Time { return testNow.Add(offset) }
	}

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		statuses = make([]*TrialStatus, len(resolvers))
		errs     = make([]error, len(resolvers))
	)
	for i, svc := range resolvers {
		wg.Add(1)
		go func(i int, svc *TrialService) {
			defer wg.Done()
			<-start
			statuses[i], errs[i] = svc.Status(ctx, "u1")
		}(i, svc)
	}
	close(start)
	wg.Wait()

	for i := range resolvers {
		require.NoError(t, errs[i])
		require.NotNil(t, statuses[i].TrialEndTime)
		assert.True(t, statuses[i].IsInTrial)
	}
	assert.True(t, statuses[0].TrialEndTime.Equal(*statuses[1].TrialEndTime),
		"got %v and %v", statuses[0].TrialEndTime, statuses[1].TrialEndTime)

	var count int64
	require.NoError(t, store.DB().Model(&models.UserTrial{}).Where("user_id = ?", "u1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
