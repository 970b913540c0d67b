package session

import (
	"context"
	"testing"

	"github.com/AnTengye/contractrisk/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, svc *fakeService) *NegotiationTracker {
	tracker := NewNegotiationTracker(context.Background(), svc)
	tracker.Bind("doc-1")
	t.Cleanup(func() {
		tracker.Close()
		tracker.wait()
	})
	return tracker
}

func TestNegotiationTrackerDeduplicatesRequests(t *testing.T) {
	svc := newFakeService()
	svc.counterResults["c1"] = make(chan uploadResult)
	tracker := newTestTracker(t, svc)

	assert.True(t, tracker.Request("c1"))
	assert.False(t, tracker.Request("c1"), "second request while pending must be ignored")
	assert.Equal(t, NegotiationRequesting, tracker.State("c1").Status)

	svc.counterResults["c1"] <- uploadResult{}
	tracker.wait()

	assert.Equal(t, 1, svc.counterCount("c1"))
	state := tracker.State("c1")
	assert.Equal(t, NegotiationReady, state.Status)
	require.NotNil(t, state.Offer)
	assert.Equal(t, "Revised c1", state.Offer.SuggestedText)

	// Once settled a clause may be requested again
	assert.True(t, tracker.Request("c1"))
}

func TestNegotiationTrackerIsolatesClauses(t *testing.T) {
	svc := newFakeService()
	svc.counterResults["c2"] = make(chan uploadResult)
	tracker := newTestTracker(t, svc)

	tracker.Request("c1")
	tracker.Request("c2")
	require.Eventually(t, func() bool {
		return tracker.State("c1").Status == NegotiationReady
	}, waitFor, pollEvery)
	ready := tracker.State("c1")

	svc.counterResults["c2"] <- uploadResult{err: &service.ServiceError{Op: "counter offer", Status: 500, Message: "Generation failed"}}
	tracker.wait()

	failed := tracker.State("c2")
	assert.Equal(t, NegotiationFailed, failed.Status)
	assert.Equal(t, "Generation failed", failed.Error)
	assert.Nil(t, failed.Offer)
	assert.Equal(t, ready, tracker.State("c1"))
}

func TestNegotiationTrackerOutOfOrderCompletion(t *testing.T) {
	svc := newFakeService()
	svc.counterResults["c1"] = make(chan uploadResult)
	svc.counterResults["c2"] = make(chan uploadResult)
	tracker := newTestTracker(t, svc)

	tracker.Request("c1")
	tracker.Request("c2")

	svc.counterResults["c2"] <- uploadResult{}
	require.Eventually(t, func() bool {
		return tracker.State("c2").Status == NegotiationReady
	}, waitFor, pollEvery)
	assert.Equal(t, NegotiationRequesting, tracker.State("c1").Status)

	svc.counterResults["c1"] <- uploadResult{}
	tracker.wait()
	assert.Equal(t, "Revised c1", tracker.State("c1").Offer.SuggestedText)
	assert.Equal(t, "Revised c2", tracker.State("c2").Offer.SuggestedText)
}

func TestNegotiationTrackerFailureDiscardsPreviousOffer(t *testing.T) {
	svc := newFakeService()
	tracker := newTestTracker(t, svc)

	tracker.Request("c1")
	tracker.wait()
	require.Equal(t, NegotiationReady, tracker.State("c1").Status)

	svc.mu.Lock()
	svc.counterResults["c1"] = make(chan uploadResult, 1)
	svc.counterResults["c1"] <- uploadResult{err: errBoom}
	svc.mu.Unlock()

	tracker.Request("c1")
	tracker.wait()
	state := tracker.State("c1")
	assert.Equal(t, NegotiationFailed, state.Status)
	assert.Nil(t, state.Offer)
	assert.Contains(t, state.Error, "Network error")
}

func TestNegotiationTrackerResetDropsResult(t *testing.T) {
	svc := newFakeService()
	svc.counterResults["c1"] = make(chan uploadResult)
	tracker := newTestTracker(t, svc)

	tracker.Request("c1")
	require.Eventually(t, func() bool { return svc.counterCount("c1") == 1 }, waitFor, pollEvery)
	tracker.Reset("c1")
	tracker.wait()

	assert.Equal(t, NegotiationIdle, tracker.State("c1").Status)
	assert.Empty(t, tracker.Snapshot())
}

func TestNegotiationTrackerBindDropsOtherDocument(t *testing.T) {
	svc := newFakeService()
	tracker := newTestTracker(t, svc)

	tracker.Request("c1")
	tracker.wait()
	require.Len(t, tracker.Snapshot(), 1)

	tracker.Bind("doc-1")
	assert.Len(t, tracker.Snapshot(), 1, "rebinding the same document keeps state")

	tracker.Bind("doc-2")
	assert.Equal(t, "doc-2", tracker.DocumentID())
	assert.Empty(t, tracker.Snapshot())
}

func TestNegotiationTrackerClose(t *testing.T) {
	svc := newFakeService()
	svc.counterResults["c1"] = make(chan uploadResult)
	tracker := newTestTracker(t, svc)

	tracker.Request("c1")
	tracker.Close()
	tracker.wait()

	assert.False(t, tracker.Request("c2"))
	assert.Empty(t, tracker.Snapshot())
}
