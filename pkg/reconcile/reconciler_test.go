package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/tgperms/pkg/errutil"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
	"github.com/small-frappuccino/tgperms/pkg/telegram"
)

const chatID int64 = -1001721934457

// fakeGateway keeps the remote record in memory. mutate, when set, edits the
// record Telegram "really" stores after a push, simulating remote-side
// normalization or a concurrent change.
type fakeGateway struct {
	mu       sync.Mutex
	remote   permissions.Set
	pushed   []permissions.Set
	fetches  int
	pushErr  error
	fetchErr error
	mutate   func(permissions.Set) permissions.Set
	observe  func()
}

func (f *fakeGateway) Fetch(id int64) (permissions.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return permissions.Remote{}, f.fetchErr
	}
	return permissions.Reported(f.remote), nil
}

func (f *fakeGateway) Push(id int64, set permissions.Set) error {
	if f.observe != nil {
		f.observe()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, set)
	if f.pushErr != nil {
		return f.pushErr
	}
	if f.mutate != nil {
		set = f.mutate(set)
	}
	f.remote = set
	return nil
}

func noWait(context.Context, time.Duration) error { return nil }

var twoKeys = permissions.MustKeySet(permissions.CanSendMessages, permissions.CanPinMessages)

func twoKeySet(t *testing.T, messages, pin bool) permissions.Set {
	t.Helper()
	s, err := permissions.FromMap(twoKeys, map[string]bool{"can_send_messages": messages, "can_pin_messages": pin})
	require.NoError(t, err)
	return s
}

func newReconciler(store *permissions.Store, gw Gateway, opts ...Option) *Reconciler {
	opts = append([]Option{WithWait(noWait)}, opts...)
	return New(store, gw, chatID, opts...)
}

func TestUpdateFieldEndToEnd(t *testing.T) {
	start := twoKeySet(t, true, false)
	store := permissions.NewStore(start)
	gw := &fakeGateway{remote: start}
	r := newReconciler(store, gw)

	out := r.UpdateField(context.Background(), permissions.CanPinMessages, true)

	require.True(t, out.Success(), "outcome: %+v", out)
	assert.Equal(t, Settled, out.State)
	assert.Equal(t, errutil.CodeNone, out.Code)
	assert.NotEmpty(t, out.OperationID)

	require.Len(t, gw.pushed, 1)
	want := map[string]bool{"can_send_messages": true, "can_pin_messages": true}
	assert.Equal(t, want, gw.pushed[0].Map())
	assert.Equal(t, want, store.Get().Map())
	assert.Equal(t, want, out.Settings.Map())
	assert.Equal(t, 1, gw.fetches)
	assert.Equal(t, Idle, r.State())
}

func TestUpdateFieldUnknownFieldNeverReachesNetwork(t *testing.T) {
	start := twoKeySet(t, true, false)
	store := permissions.NewStore(start)
	gw := &fakeGateway{remote: start}
	r := newReconciler(store, gw)

	out := r.UpdateField(context.Background(), permissions.CanSendPolls, true)

	assert.False(t, out.Success())
	assert.Equal(t, Failed, out.State)
	assert.Equal(t, errutil.CodeUnknownField, out.Code)
	require.ErrorIs(t, out.Err, permissions.ErrUnknownField)
	assert.Empty(t, gw.pushed)
	assert.True(t, store.Get().Equal(start))
}

func TestPushFailureKeepsSpeculativeMerge(t *testing.T) {
	start := twoKeySet(t, true, false)
	store := permissions.NewStore(start)
	gw := &fakeGateway{remote: start, pushErr: &telegram.RemoteError{Kind: telegram.ErrRemoteRejected, Method: "setChatPermissions", Code: 400, Description: "Bad Request: not enough rights"}}
	r := newReconciler(store, gw)

	out := r.UpdateField(context.Background(), permissions.CanPinMessages, true)

	assert.Equal(t, Failed, out.State)
	assert.Equal(t, errutil.CodeRemoteRejected, out.Code)
	assert.Contains(t, out.Message(), "not enough rights")
	assert.True(t, store.Get().Get(permissions.CanPinMessages), "merge must not be rolled back")
	assert.Zero(t, gw.fetches)
}

func TestTransportFailureIsDistinctFromRejection(t *testing.T) {
	start := twoKeySet(t, true, false)
	gw := &fakeGateway{remote: start, pushErr: &telegram.RemoteError{Kind: telegram.ErrRemoteUnavailable, Method: "setChatPermissions", Cause: errors.New("dial tcp: connection refused")}}
	r := newReconciler(permissions.NewStore(start), gw)

	out := r.ApplyAll(context.Background())
	assert.Equal(t, errutil.CodeRemoteUnavailable, out.Code)
	assert.True(t, out.Code.Recoverable())
}

func TestInconsistencyDetected(t *testing.T) {
	start := twoKeySet(t, true, false)
	store := permissions.NewStore(start)
	gw := &fakeGateway{
		remote: start,
		mutate: func(s permissions.Set) permissions.Set {
			s, _ = s.With(permissions.CanPinMessages, false)
			return s
		},
	}
	r := newReconciler(store, gw, WithVerifyPolicy(VerifyPolicy{Enabled: true, Attempts: 3}))

	out := r.UpdateField(context.Background(), permissions.CanPinMessages, true)

	assert.Equal(t, Inconsistent, out.State)
	assert.NotEqual(t, Settled, out.State)
	assert.False(t, out.Success())
	assert.Equal(t, errutil.CodeInconsistent, out.Code)
	require.ErrorIs(t, out.Err, ErrInconsistent)

	var inc *InconsistencyError
	require.ErrorAs(t, out.Err, &inc)
	assert.Equal(t, []permissions.Key{permissions.CanPinMessages}, inc.Keys)
	assert.Equal(t, 3, inc.Attempt)
	assert.Equal(t, 3, gw.fetches)

	// The store keeps the pushed, speculative value.
	assert.True(t, store.Get().Get(permissions.CanPinMessages))
}

func TestVerificationRetriesUntilRemoteCatchesUp(t *testing.T) {
	start := twoKeySet(t, true, false)
	store := permissions.NewStore(start)
	gw := &fakeGateway{remote: start, mutate: func(s permissions.Set) permissions.Set { return start }}

	waits := 0
	wait := func(ctx context.Context, d time.Duration) error {
		waits++
		assert.Equal(t, 250*time.Millisecond, d)
		if waits == 2 {
			gw.mu.Lock()
			gw.remote = twoKeySet(t, true, true)
			gw.mu.Unlock()
		}
		return nil
	}
	r := New(store, gw, chatID, WithWait(wait), WithVerifyPolicy(VerifyPolicy{Enabled: true, SettleDelay: 250 * time.Millisecond, Attempts: 3}))

	out := r.UpdateField(context.Background(), permissions.CanPinMessages, true)
	require.True(t, out.Success(), "outcome: %+v", out)
	assert.Equal(t, 2, waits)
	assert.Equal(t, 2, gw.fetches)
}

func TestVerifiedRecordReplacesStore(t *testing.T) {
	ks := permissions.MustKeySet(permissions.CanSendMessages, permissions.CanPinMessages, permissions.CanSendPolls)
	start := permissions.Defaults(ks)
	store := permissions.NewStore(start)
	gw := &fakeGateway{remote: start}
	r := newReconciler(store, gw)

	out := r.UpdateField(context.Background(), permissions.CanSendPolls, false)
	require.True(t, out.Success())
	assert.False(t, store.LastSynced().IsZero())
}

func TestVerificationDisabledSkipsFetch(t *testing.T) {
	start := twoKeySet(t, true, false)
	gw := &fakeGateway{remote: start}
	r := newReconciler(permissions.NewStore(start), gw, WithVerifyPolicy(VerifyPolicy{Enabled: false}))

	out := r.UpdateField(context.Background(), permissions.CanPinMessages, true)
	require.True(t, out.Success())
	assert.Zero(t, gw.fetches)
}

func TestCancelledSettleWaitFails(t *testing.T) {
	start := twoKeySet(t, true, false)
	store := permissions.NewStore(start)
	gw := &fakeGateway{remote: start}
	ctx, cancel := context.WithCancel(context.Background())
	r := New(store, gw, chatID, WithVerifyPolicy(VerifyPolicy{Enabled: true, SettleDelay: time.Hour}))

	gw.observe = cancel
	out := r.UpdateField(ctx, permissions.CanPinMessages, true)

	assert.Equal(t, Failed, out.State)
	require.ErrorIs(t, out.Err, context.Canceled)
	assert.True(t, store.Get().Get(permissions.CanPinMessages))
}

func TestApplyAllSendsEveryKey(t *testing.T) {
	start := permissions.Defaults(permissions.Extended)
	store := permissions.NewStore(start)
	gw := &fakeGateway{remote: start}
	r := newReconciler(store, gw)

	_, err := store.MergeField(permissions.CanPinMessages, true)
	require.NoError(t, err)

	out := r.ApplyAll(context.Background())
	require.True(t, out.Success())
	require.Len(t, gw.pushed, 1)
	assert.Len(t, gw.pushed[0].Map(), permissions.Extended.Len())
	assert.True(t, gw.pushed[0].Equal(store.Get()))
}

func TestUpdateFieldsMergesOnlySupplied(t *testing.T) {
	start := permissions.Defaults(permissions.Extended)
	store := permissions.NewStore(start)
	gw := &fakeGateway{remote: start}
	r := newReconciler(store, gw)

	out := r.UpdateFields(context.Background(), map[permissions.Key]bool{
		permissions.CanPinMessages: true,
		permissions.CanSendPhotos:  false,
	})
	require.True(t, out.Success())
	assert.ElementsMatch(t, []permissions.Key{permissions.CanSendPhotos, permissions.CanPinMessages}, start.Diff(store.Get()))
	assert.Len(t, gw.pushed[0].Map(), permissions.Extended.Len())
}

func TestSyncReplacesStore(t *testing.T) {
	local := twoKeySet(t, true, false)
	remote := twoKeySet(t, false, true)
	store := permissions.NewStore(local)
	gw := &fakeGateway{remote: remote}
	r := newReconciler(store, gw)

	out := r.Sync(context.Background())
	require.True(t, out.Success())
	assert.True(t, store.Get().Equal(remote))
	assert.Empty(t, gw.pushed)
}

func TestSyncFailureLeavesStore(t *testing.T) {
	local := twoKeySet(t, true, false)
	store := permissions.NewStore(local)
	gw := &fakeGateway{fetchErr: &telegram.RemoteError{Kind: telegram.ErrRemoteUnavailable, Method: "getChat"}}
	r := newReconciler(store, gw)

	out := r.Sync(context.Background())
	assert.Equal(t, Failed, out.State)
	assert.Equal(t, errutil.CodeRemoteUnavailable, out.Code)
	assert.True(t, store.Get().Equal(local))
}

func TestPushThenFetchIdempotence(t *testing.T) {
	start := permissions.Defaults(permissions.Reduced)
	gw := &fakeGateway{remote: start}
	next, _ := start.With(permissions.CanInviteUsers, false)

	require.NoError(t, gw.Push(chatID, next))
	got, err := gw.Fetch(chatID)
	require.NoError(t, err)
	assert.True(t, next.Equal(got.Set))
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	start := permissions.NewSet(permissions.Extended)
	store := permissions.NewStore(start)

	var inFlight, maxInFlight int
	var mu sync.Mutex
	gw := &fakeGateway{remote: start}
	gw.observe = func() {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}
	r := newReconciler(store, gw)

	var wg sync.WaitGroup
	for _, k := range permissions.Extended.Keys() {
		wg.Add(1)
		go func(k permissions.Key) {
			defer wg.Done()
			r.UpdateField(context.Background(), k, true)
		}(k)
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
	// The last push carries every earlier merge.
	last := gw.pushed[len(gw.pushed)-1]
	for _, k := range permissions.Extended.Keys() {
		assert.True(t, last.Get(k), "key %s missing from final push", k)
	}
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "inconsistent", Inconsistent.String())
	assert.True(t, Settled.Terminal())
	assert.False(t, Verifying.Terminal())
}
