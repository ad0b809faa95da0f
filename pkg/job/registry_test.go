package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/job"
	"github.com/conveyorhq/conveyor/pkg/params"
)

type noopJob struct{}

func (noopJob) Run(ctx context.Context) error { return nil }

type policyJob struct{ noopJob }

func (policyJob) DefaultQueue() string                           { return "reports" }
func (policyJob) DefaultPriority() int                           { return 5 }
func (policyJob) DefaultRetries() int                            { return 3 }
func (policyJob) DefaultConcurrencyKey() string                  { return "solo" }
func (policyJob) CalculateRetryDelay(attempt int) time.Duration  { return time.Duration(attempt) * time.Minute }
func (policyJob) ShouldEnqueue(pending int64) bool               { return pending < 2 }

func noopFactory(ctx context.Context, args params.Arguments) (job.Job, error) {
	return noopJob{}, nil
}

func TestRegistry_ResolveAndAliases(t *testing.T) {
	r := job.NewRegistry()
	r.Register("mail.send", noopFactory, "legacy.mailer")
	r.Seal()

	canonical, factory, err := r.Resolve("mail.send")
	require.NoError(t, err)
	assert.Equal(t, "mail.send", canonical)
	assert.NotNil(t, factory)

	canonical, _, err = r.Resolve("legacy.mailer")
	require.NoError(t, err)
	assert.Equal(t, "mail.send", canonical)

	assert.True(t, r.Has("mail.send"))
	assert.True(t, r.Has("legacy.mailer"))
	assert.False(t, r.Has("unknown"))
	assert.Equal(t, []string{"mail.send"}, r.Classes())
}

func TestRegistry_NotReadyBeforeSeal(t *testing.T) {
	r := job.NewRegistry()
	r.Register("mail.send", noopFactory)

	assert.False(t, r.Ready())
	_, _, err := r.Resolve("mail.send")
	assert.ErrorIs(t, err, core.ErrRegistryNotReady)

	r.Seal()
	assert.True(t, r.Ready())
	_, _, err = r.Resolve("mail.send")
	assert.NoError(t, err)
}

func TestRegistry_UnknownClass(t *testing.T) {
	r := job.NewRegistry()
	r.Seal()

	_, _, err := r.Resolve("nope")
	assert.ErrorIs(t, err, core.ErrUnknownJobClass)
}

func TestRegistry_RegistrationPanics(t *testing.T) {
	r := job.NewRegistry()
	r.Register("mail.send", noopFactory)

	assert.Panics(t, func() { r.Register("mail.send", noopFactory) })
	assert.Panics(t, func() { r.Register("bad name", noopFactory) })
	assert.Panics(t, func() { r.Register("mail.other", nil) })

	r.Seal()
	assert.Panics(t, func() { r.Register("too.late", noopFactory) })
}

func TestRegistry_LoadReportsFactoryFailure(t *testing.T) {
	r := job.NewRegistry()
	r.Register("flaky.build", func(ctx context.Context, args params.Arguments) (job.Job, error) {
		return nil, errors.New("missing argument")
	})
	r.Register("panicky.build", func(ctx context.Context, args params.Arguments) (job.Job, error) {
		panic("bad type assertion")
	})
	r.Seal()

	_, err := r.Load(context.Background(), "flaky.build", params.Arguments{})
	assert.ErrorContains(t, err, "missing argument")

	// A panicking factory must surface as an error, not unwind the
	// caller.
	_, err = r.Load(context.Background(), "panicky.build", params.Arguments{})
	assert.ErrorContains(t, err, "bad type assertion")
}

func TestPolicyOf_Defaults(t *testing.T) {
	p := job.PolicyOf(noopJob{})
	assert.Equal(t, job.Policy{Queue: "default"}, p)

	assert.Equal(t, time.Duration(0), job.RetryDelay(noopJob{}, 1))
	assert.True(t, job.ShouldEnqueue(noopJob{}, 0))
	assert.False(t, job.ShouldEnqueue(noopJob{}, 1))
}

func TestPolicyOf_Hooks(t *testing.T) {
	p := job.PolicyOf(policyJob{})
	assert.Equal(t, job.Policy{
		Queue:          "reports",
		Priority:       5,
		Retries:        3,
		ConcurrencyKey: "solo",
	}, p)

	assert.Equal(t, 2*time.Minute, job.RetryDelay(policyJob{}, 2))
	assert.True(t, job.ShouldEnqueue(policyJob{}, 1))
	assert.False(t, job.ShouldEnqueue(policyJob{}, 2))
}

func TestOptions_OverridePolicy(t *testing.T) {
	o := job.OptionsFrom(job.PolicyOf(policyJob{}))
	for _, opt := range []job.Option{
		job.OnQueue("urgent"),
		job.Priority(9),
		job.Retries(1),
		job.ConcurrencyKey(""),
		job.Delay(time.Minute),
	} {
		opt.Apply(o)
	}

	assert.Equal(t, "urgent", o.Queue)
	assert.Equal(t, 9, o.Priority)
	assert.Equal(t, 1, o.Retries)
	assert.Empty(t, o.ConcurrencyKey)
	assert.Equal(t, time.Minute, o.Delay)
}

func TestOptions_RetriesClamped(t *testing.T) {
	o := &job.Options{}
	job.Retries(10_000).Apply(o)
	assert.Equal(t, 100, o.Retries)

	job.Retries(-1).Apply(o)
	assert.Equal(t, 0, o.Retries)
}

func TestOptions_At(t *testing.T) {
	when := time.Now().Add(time.Hour)
	o := &job.Options{}
	job.At(when).Apply(o)
	require.NotNil(t, o.RunAt)
	assert.Equal(t, when, *o.RunAt)
}
