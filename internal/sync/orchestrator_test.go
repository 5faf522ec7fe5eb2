package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloud-go/internal/config"
)

func namedAccount(t *testing.T, username string) *config.Account {
	t.Helper()

	acct := testAccount(t.TempDir())
	acct.Username = username

	return acct
}

// passthroughBuild wires every account to a working auth and the given
// pass func.
func passthroughBuild(pass func(acct *config.Account) (*Report, error)) func(*config.Account) (RunnerConfig, error) {
	return func(acct *config.Account) (RunnerConfig, error) {
		return RunnerConfig{
			Account: acct,
			Auth: func(context.Context) (AssetService, error) {
				return &fakeService{}, nil
			},
			Pass: func(context.Context, AssetService) (*Report, error) {
				return pass(acct)
			},
			Logger: testLogger(),
		}, nil
	}
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewOrchestrator(OrchestratorConfig{Logger: testLogger()})
	assert.Error(t, err, "build func is required")

	_, err = NewOrchestrator(OrchestratorConfig{
		Build: func(*config.Account) (RunnerConfig, error) { return RunnerConfig{}, nil },
	})
	assert.Error(t, err, "logger is required")
}

func TestOrchestrator_RunsAccountsSequentially(t *testing.T) {
	t.Parallel()

	var order []string

	var results []AccountResult

	o, err := NewOrchestrator(OrchestratorConfig{
		Accounts: []*config.Account{
			namedAccount(t, "one@example.com"),
			namedAccount(t, "two@example.com"),
		},
		Build: passthroughBuild(func(acct *config.Account) (*Report, error) {
			order = append(order, acct.Username)

			return &Report{Downloaded: 1}, nil
		}),
		OnResult: func(res AccountResult) { results = append(results, res) },
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, []string{"one@example.com", "two@example.com"}, order)

	require.Len(t, results, 2)
	for _, res := range results {
		assert.NoError(t, res.Err)
		require.NotNil(t, res.Report)
		assert.Equal(t, 1, res.Report.Downloaded)
	}
}

func TestOrchestrator_SkipsPausedAccounts(t *testing.T) {
	t.Parallel()

	paused := namedAccount(t, "paused@example.com")
	paused.Paused = true

	var order []string

	o, err := NewOrchestrator(OrchestratorConfig{
		Accounts: []*config.Account{paused, namedAccount(t, "active@example.com")},
		Build: passthroughBuild(func(acct *config.Account) (*Report, error) {
			order = append(order, acct.Username)

			return &Report{}, nil
		}),
		Logger: testLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, []string{"active@example.com"}, order)
}

func TestOrchestrator_CountsFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("library unavailable")

	var results []AccountResult

	o, err := NewOrchestrator(OrchestratorConfig{
		Accounts: []*config.Account{
			namedAccount(t, "ok@example.com"),
			namedAccount(t, "broken@example.com"),
			namedAccount(t, "fine@example.com"),
		},
		Build: passthroughBuild(func(acct *config.Account) (*Report, error) {
			if acct.Username == "broken@example.com" {
				return nil, boom
			}

			return &Report{}, nil
		}),
		OnResult: func(res AccountResult) { results = append(results, res) },
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	err = o.Run(context.Background())

	assert.ErrorContains(t, err, "1 of 3 accounts failed")

	require.Len(t, results, 3, "a broken account must not starve the rest")

	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Nil(t, results[1].Report, "a failed account reports no pass")
	assert.NoError(t, results[2].Err)
}

func TestOrchestrator_BuildFailureFailsAccount(t *testing.T) {
	t.Parallel()

	boom := errors.New("no stored session")

	var results []AccountResult

	o, err := NewOrchestrator(OrchestratorConfig{
		Accounts: []*config.Account{namedAccount(t, "one@example.com")},
		Build: func(*config.Account) (RunnerConfig, error) {
			return RunnerConfig{}, boom
		},
		OnResult: func(res AccountResult) { results = append(results, res) },
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	err = o.Run(context.Background())

	assert.ErrorContains(t, err, "1 of 1 accounts failed")
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
}

func TestOrchestrator_PanicIsContained(t *testing.T) {
	t.Parallel()

	var order []string

	var results []AccountResult

	o, err := NewOrchestrator(OrchestratorConfig{
		Accounts: []*config.Account{
			namedAccount(t, "panicky@example.com"),
			namedAccount(t, "calm@example.com"),
		},
		Build: passthroughBuild(func(acct *config.Account) (*Report, error) {
			order = append(order, acct.Username)

			if acct.Username == "panicky@example.com" {
				panic("nil version map")
			}

			return &Report{}, nil
		}),
		OnResult: func(res AccountResult) { results = append(results, res) },
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	err = o.Run(context.Background())

	assert.ErrorContains(t, err, "1 of 2 accounts failed")
	assert.Equal(t, []string{"panicky@example.com", "calm@example.com"}, order)

	require.Len(t, results, 2)
	assert.ErrorContains(t, results[0].Err, "panic syncing account panicky@example.com")
	assert.NoError(t, results[1].Err)
}

func TestOrchestrator_CancelStopsBeforeNextAccount(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var order []string

	o, err := NewOrchestrator(OrchestratorConfig{
		Accounts: []*config.Account{
			namedAccount(t, "first@example.com"),
			namedAccount(t, "second@example.com"),
		},
		Build: passthroughBuild(func(acct *config.Account) (*Report, error) {
			order = append(order, acct.Username)
			cancel()

			return nil, context.Canceled
		}),
		Logger: testLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, o.Run(ctx), "cancellation is not an account failure")
	assert.Equal(t, []string{"first@example.com"}, order)
}

func TestOrchestrator_ChainsCallerReportCallback(t *testing.T) {
	t.Parallel()

	var callerGot *Report

	var results []AccountResult

	o, err := NewOrchestrator(OrchestratorConfig{
		Accounts: []*config.Account{namedAccount(t, "one@example.com")},
		Build: func(acct *config.Account) (RunnerConfig, error) {
			return RunnerConfig{
				Account: acct,
				Auth: func(context.Context) (AssetService, error) {
					return &fakeService{}, nil
				},
				Pass: func(context.Context, AssetService) (*Report, error) {
					return &Report{Downloaded: 7}, nil
				},
				OnReport: func(rep *Report) { callerGot = rep },
				Logger:   testLogger(),
			}, nil
		},
		OnResult: func(res AccountResult) { results = append(results, res) },
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background()))

	require.NotNil(t, callerGot, "the caller's callback must still fire")
	assert.Equal(t, 7, callerGot.Downloaded)

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Report)
	assert.Equal(t, 7, results[0].Report.Downloaded)
}
