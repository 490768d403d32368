package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// RetryTestSuite tests the bounded-retry discipline around radio operations
type RetryTestSuite struct {
	suite.Suite
}

func TestRetryTestSuite(t *testing.T) {
	suite.Run(t, new(RetryTestSuite))
}

func fastPolicy(attempts int) Policy {
	return Policy{
		Attempts:       attempts,
		Timeout:        200 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func (suite *RetryTestSuite) TestTransientFailureIsRetried() {
	// GOAL: Verify transient failures are retried up to the attempt budget
	//
	// TEST SCENARIO: Operation fails twice with a generic error, then
	// succeeds → Do returns nil after exactly three attempts

	logger, _ := test.NewNullLogger()

	attempts := 0
	err := Do(context.Background(), logger, "flaky", fastPolicy(3), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient radio fault")
		}
		return nil
	})

	suite.NoError(err, "the final successful attempt MUST win")
	suite.Equal(3, attempts)
}

func (suite *RetryTestSuite) TestAttemptBudgetExhausted() {
	// GOAL: Verify the attempt budget is a hard bound
	//
	// TEST SCENARIO: Operation always fails → Do returns the last error
	// after exactly Attempts tries

	logger, _ := test.NewNullLogger()

	attempts := 0
	lastErr := errors.New("still broken")
	err := Do(context.Background(), logger, "broken", fastPolicy(3), func(ctx context.Context) error {
		attempts++
		return lastErr
	})

	suite.ErrorIs(err, lastErr)
	suite.Equal(3, attempts, "the operation MUST be tried exactly Attempts times")
}

func (suite *RetryTestSuite) TestNonRetryableErrorPropagatesImmediately() {
	// GOAL: Verify the fixed non-retryable classes short-circuit the loop
	//
	// TEST SCENARIO: Each non-retryable error class → exactly one attempt,
	// original error preserved for errors.Is

	logger, _ := test.NewNullLogger()

	for _, sentinel := range []error{
		transport.ErrUserCancelled,
		transport.ErrPermissionDenied,
		transport.ErrBluetoothOff,
		transport.ErrDeviceNotFound,
	} {
		attempts := 0
		err := Do(context.Background(), logger, "fatal", fastPolicy(5), func(ctx context.Context) error {
			attempts++
			return fmt.Errorf("wrapped: %w", sentinel)
		})

		suite.ErrorIs(err, sentinel, "%v MUST propagate unchanged", sentinel)
		suite.Equal(1, attempts, "%v MUST not be retried", sentinel)
	}
}

func (suite *RetryTestSuite) TestAttemptTimeoutMapsToErrTimeout() {
	// GOAL: Verify an attempt that outlives its budget fails as a timeout
	//
	// TEST SCENARIO: Operation blocks until its attempt context expires →
	// Do reports transport.ErrTimeout

	logger, _ := test.NewNullLogger()

	p := Policy{
		Attempts:       1,
		Timeout:        20 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
	err := Do(context.Background(), logger, "stuck", p, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	suite.ErrorIs(err, transport.ErrTimeout, "attempt expiry MUST surface as ErrTimeout")
}

func (suite *RetryTestSuite) TestParentCancellationStopsRetrying() {
	// GOAL: Verify caller cancellation is terminal, not retryable
	//
	// TEST SCENARIO: Parent context cancelled during the first attempt →
	// Do returns promptly without further attempts

	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, logger, "cancelled", fastPolicy(5), func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("failed while caller gave up")
	})

	suite.Error(err)
	suite.Equal(1, attempts, "a cancelled caller MUST not trigger retries")
}

func (suite *RetryTestSuite) TestDoValueReturnsResult() {
	// GOAL: Verify the value-producing variant carries results through
	//
	// TEST SCENARIO: Fail once, then return a value → value delivered, nil error

	logger, _ := test.NewNullLogger()

	attempts := 0
	got, err := DoValue(context.Background(), logger, "read", fastPolicy(3), func(ctx context.Context) ([]byte, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return []byte{0x2a}, nil
	})

	suite.NoError(err)
	suite.Equal([]byte{0x2a}, got)
	suite.Equal(2, attempts)
}
