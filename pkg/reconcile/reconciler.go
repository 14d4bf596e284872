package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/small-frappuccino/tgperms/pkg/errutil"
	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
)

// ErrInconsistent is matched by InconsistencyError: the push was accepted
// but the re-fetched record disagrees with what was pushed.
var ErrInconsistent = errors.New("remote state does not match pushed settings")

// Gateway is the remote side of the reconciler: the Bot API in production,
// a fake in tests. Keys Fetch marks unreported keep their local value.
type Gateway interface {
	Fetch(chatID int64) (permissions.Remote, error)
	Push(chatID int64, set permissions.Set) error
}

// InconsistencyError lists the keys whose remote value differs from the
// pushed one after every verification attempt.
type InconsistencyError struct {
	Pushed  permissions.Set
	Remote  permissions.Set
	Keys    []permissions.Key
	Attempt int
}

func (e *InconsistencyError) Error() string {
	names := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		names[i] = k.String()
	}
	return fmt.Sprintf("%s: %s", ErrInconsistent, strings.Join(names, ", "))
}

func (e *InconsistencyError) Is(target error) bool { return target == ErrInconsistent }

func (e *InconsistencyError) Code() errutil.Code { return errutil.CodeInconsistent }

// VerifyPolicy controls the optional post-push verification.
type VerifyPolicy struct {
	Enabled bool
	// SettleDelay is waited before every verification fetch.
	SettleDelay time.Duration
	// Attempts bounds the number of fetches; values below 1 mean 1.
	Attempts int
}

// DefaultVerifyPolicy waits one second and checks once.
func DefaultVerifyPolicy() VerifyPolicy {
	return VerifyPolicy{Enabled: true, SettleDelay: time.Second, Attempts: 1}
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Outcome is the structured result of one reconciler operation. Errors never
// escape as panics or bare returns; they are carried here.
type Outcome struct {
	OperationID string
	State       State
	Settings    permissions.Set
	Err         error
	Code        errutil.Code
}

// Success reports whether the operation settled.
func (o Outcome) Success() bool { return o.State == Settled && o.Err == nil }

// Message is the human-readable error text, empty on success.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Reconciler sequences merge, push and verify against one chat. All
// operations are serialized, so a push always includes every earlier merge.
type Reconciler struct {
	mu sync.Mutex

	store   *permissions.Store
	gateway Gateway
	chatID  int64
	policy  VerifyPolicy
	wait    WaitFunc

	stateMu sync.RWMutex
	state   State
}

// Option customizes New.
type Option func(*Reconciler)

// WithVerifyPolicy replaces DefaultVerifyPolicy.
func WithVerifyPolicy(p VerifyPolicy) Option {
	return func(r *Reconciler) { r.policy = p }
}

// WithWait replaces the settle-delay wait, typically with a no-op in tests.
func WithWait(w WaitFunc) Option {
	return func(r *Reconciler) {
		if w != nil {
			r.wait = w
		}
	}
}

// New builds a Reconciler for chatID.
func New(store *permissions.Store, gateway Gateway, chatID int64, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   store,
		gateway: gateway,
		chatID:  chatID,
		policy:  DefaultVerifyPolicy(),
		wait:    sleepContext,
		state:   Idle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy.Attempts < 1 {
		r.policy.Attempts = 1
	}
	return r
}

// State returns the state of the operation in flight, or Idle.
func (r *Reconciler) State() State {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.state
}

// Store exposes the settings store for read-only callers.
func (r *Reconciler) Store() *permissions.Store { return r.store }

// ChatID is the managed chat.
func (r *Reconciler) ChatID() int64 { return r.chatID }

func (r *Reconciler) enter(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

type operation struct {
	id   string
	name string
	r    *Reconciler
}

func (r *Reconciler) begin(name string) *operation {
	op := &operation{id: uuid.NewString(), name: name, r: r}
	log.ApplicationLogger().Debug("Reconcile started", "op", name, "op_id", op.id, "chat_id", r.chatID)
	return op
}

// finish records the terminal state, returns the machine to Idle and builds
// the Outcome.
func (op *operation) finish(state State, err error) Outcome {
	r := op.r
	r.enter(Idle)

	out := Outcome{
		OperationID: op.id,
		State:       state,
		Settings:    r.store.Get(),
		Err:         err,
	}
	if err != nil {
		out.Code = errutil.Report("reconciler", op.name, err)
	} else {
		log.ApplicationLogger().Info("Reconcile settled", "op", op.name, "op_id", op.id, "chat_id", r.chatID, "settings", out.Settings.String())
	}
	return out
}

// UpdateField changes one permission and pushes the full record.
func (r *Reconciler) UpdateField(ctx context.Context, k permissions.Key, v bool) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.begin("update_field")
	r.enter(Merging)
	merged, err := r.store.MergeField(k, v)
	if err != nil {
		return op.finish(Failed, err)
	}
	return r.pushAndVerify(ctx, op, merged)
}

// UpdateFields changes exactly the supplied permissions and pushes the full
// record. An unknown key aborts before anything changes.
func (r *Reconciler) UpdateFields(ctx context.Context, values map[permissions.Key]bool) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.begin("update_fields")
	r.enter(Merging)
	merged, err := r.store.MergeFields(values)
	if err != nil {
		return op.finish(Failed, err)
	}
	return r.pushAndVerify(ctx, op, merged)
}

// ApplyAll pushes the current record as-is.
func (r *Reconciler) ApplyAll(ctx context.Context) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.begin("apply_all")
	return r.pushAndVerify(ctx, op, r.store.Get())
}

// Sync replaces the local record with the remote one.
func (r *Reconciler) Sync(ctx context.Context) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := r.begin("sync")
	if err := ctx.Err(); err != nil {
		return op.finish(Failed, err)
	}

	r.enter(Pulling)
	remote, err := r.gateway.Fetch(r.chatID)
	if err != nil {
		return op.finish(Failed, fmt.Errorf("fetch: %w", err))
	}
	if _, err := r.store.Replace(remote.Over(r.store.Get())); err != nil {
		return op.finish(Failed, err)
	}
	return op.finish(Settled, nil)
}

// pushAndVerify runs Pushing and, when enabled, Verifying. A failed push or
// verification leaves the merged record in the store.
func (r *Reconciler) pushAndVerify(ctx context.Context, op *operation, pushed permissions.Set) Outcome {
	if err := ctx.Err(); err != nil {
		return op.finish(Failed, err)
	}

	r.enter(Pushing)
	if err := r.gateway.Push(r.chatID, pushed); err != nil {
		return op.finish(Failed, fmt.Errorf("push: %w", err))
	}

	if !r.policy.Enabled {
		return op.finish(Settled, nil)
	}

	r.enter(Verifying)
	var mismatch *InconsistencyError
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		if err := r.wait(ctx, r.policy.SettleDelay); err != nil {
			return op.finish(Failed, fmt.Errorf("verify: %w", err))
		}

		remote, err := r.gateway.Fetch(r.chatID)
		if err != nil {
			return op.finish(Failed, fmt.Errorf("verify fetch: %w", err))
		}

		observed := remote.Over(pushed)
		diff := pushed.Diff(observed)
		if len(diff) == 0 {
			if _, err := r.store.Replace(observed); err != nil {
				return op.finish(Failed, err)
			}
			return op.finish(Settled, nil)
		}

		mismatch = &InconsistencyError{Pushed: pushed, Remote: observed, Keys: diff, Attempt: attempt}
		log.ApplicationLogger().Debug("Verification mismatch", "op_id", op.id, "attempt", attempt, "keys", len(diff))
	}
	return op.finish(Inconsistent, mismatch)
}
