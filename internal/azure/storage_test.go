package azure

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aztfboot/aztfboot/internal/message"
)

func TestMain(m *testing.M) {
	message.SetSilentMode(true)
	m.Run()
}

type fakeReadCloser struct {
	io.Reader
}

func (fakeReadCloser) Close() error { return nil }

func responseError(statusCode int, errorCode string) *azcore.ResponseError {
	return &azcore.ResponseError{
		ErrorCode:  errorCode,
		StatusCode: statusCode,
		RawResponse: &http.Response{
			Request: &http.Request{
				Method: "PUT",
				URL:    &url.URL{},
			},
			Body: fakeReadCloser{bytes.NewBufferString(errorCode)},
		},
	}
}

type stubAccounts struct {
	available       bool
	availabilityErr error
	createCalls     int
	createErr       error
}

func (s *stubAccounts) IsNameAvailable(ctx context.Context, accountName string) (bool, error) {
	return s.available, s.availabilityErr
}

func (s *stubAccounts) Create(ctx context.Context, resourceGroup, accountName, region string) (string, error) {
	s.createCalls++
	if s.createErr != nil {
		return "", s.createErr
	}
	return "/subscriptions/sub/resourceGroups/" + resourceGroup + "/providers/Microsoft.Storage/storageAccounts/" + accountName, nil
}

// stubContainers fails the first `failures` creation attempts with err,
// then succeeds.
type stubContainers struct {
	failures int
	err      error
	calls    int
}

func (s *stubContainers) Create(ctx context.Context, accountName, containerName string) error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	return nil
}

// countingBackoff never sleeps but records how often it would have.
func countingBackoff(sleeps *int) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		*sleeps++
		return 0, false
	})
}

func noGrant(ctx context.Context, accountId string) error { return nil }

var testParams = StateStoreParams{
	AccountName:   "satfstate",
	ContainerName: "tfstate",
	ResourceGroup: "rg-terraform-state",
	Region:        "westeurope",
}

func TestCreateStateStore(t *testing.T) {
	ctx := context.Background()
	propagationErr := responseError(http.StatusForbidden, "AuthorizationPermissionMismatch")

	t.Run("succeeds on first attempt", func(t *testing.T) {
		var sleeps int
		accounts := &stubAccounts{available: true}
		containers := &stubContainers{}

		store, err := (&Provider{}).createStateStore(ctx, accounts, containers, noGrant, testParams, countingBackoff(&sleeps))
		require.NoError(t, err)
		assert.Equal(t, "satfstate", store.AccountName)
		assert.Equal(t, "tfstate", store.ContainerName)
		assert.NotEmpty(t, store.AccountId)
		assert.Equal(t, 1, accounts.createCalls)
		assert.Equal(t, 1, containers.calls)
		assert.Equal(t, 0, sleeps)
	})

	t.Run("retries propagation failures until success", func(t *testing.T) {
		var sleeps int
		accounts := &stubAccounts{available: true}
		containers := &stubContainers{failures: 3, err: propagationErr}

		_, err := (&Provider{}).createStateStore(ctx, accounts, containers, noGrant, testParams, countingBackoff(&sleeps))
		require.NoError(t, err)
		assert.Equal(t, 4, containers.calls)
		assert.Equal(t, 3, sleeps)
	})

	t.Run("exhausts the attempt budget", func(t *testing.T) {
		var sleeps int
		accounts := &stubAccounts{available: true}
		containers := &stubContainers{failures: containerCreateAttempts + 5, err: propagationErr}

		_, err := (&Provider{}).createStateStore(ctx, accounts, containers, noGrant, testParams, countingBackoff(&sleeps))
		require.ErrorIs(t, err, ErrContainerRetriesExhausted)
		assert.Equal(t, containerCreateAttempts, containers.calls)
		assert.Equal(t, containerCreateAttempts-1, sleeps, "no sleep after the final attempt")
	})

	t.Run("conflict is not retried", func(t *testing.T) {
		var sleeps int
		accounts := &stubAccounts{available: true}
		containers := &stubContainers{
			failures: containerCreateAttempts,
			err:      responseError(http.StatusConflict, string(bloberror.ContainerAlreadyExists)),
		}

		_, err := (&Provider{}).createStateStore(ctx, accounts, containers, noGrant, testParams, countingBackoff(&sleeps))
		require.ErrorIs(t, err, ErrContainerExists)
		assert.NotErrorIs(t, err, ErrContainerRetriesExhausted)
		assert.Equal(t, 1, containers.calls)
		assert.Equal(t, 0, sleeps)
	})

	t.Run("other container errors are not retried", func(t *testing.T) {
		var sleeps int
		accounts := &stubAccounts{available: true}
		containers := &stubContainers{
			failures: containerCreateAttempts,
			err:      responseError(http.StatusBadRequest, "InvalidResourceName"),
		}

		_, err := (&Provider{}).createStateStore(ctx, accounts, containers, noGrant, testParams, countingBackoff(&sleeps))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrContainerRetriesExhausted)
		assert.Equal(t, 1, containers.calls)
		assert.Equal(t, 0, sleeps)
	})

	t.Run("taken account name fails before any creation", func(t *testing.T) {
		var sleeps int
		accounts := &stubAccounts{available: false}
		containers := &stubContainers{}

		_, err := (&Provider{}).createStateStore(ctx, accounts, containers, noGrant, testParams, countingBackoff(&sleeps))
		require.ErrorIs(t, err, ErrStorageNameTaken)
		assert.Contains(t, err.Error(), "satfstate")
		assert.Equal(t, 0, accounts.createCalls)
		assert.Equal(t, 0, containers.calls)
	})

	t.Run("grant failure aborts before container creation", func(t *testing.T) {
		var sleeps int
		accounts := &stubAccounts{available: true}
		containers := &stubContainers{}
		grant := func(ctx context.Context, accountId string) error {
			return responseError(http.StatusBadRequest, "InvalidPrincipalId")
		}

		_, err := (&Provider{}).createStateStore(ctx, accounts, containers, grant, testParams, countingBackoff(&sleeps))
		require.Error(t, err)
		assert.Equal(t, 0, containers.calls)
	})
}
