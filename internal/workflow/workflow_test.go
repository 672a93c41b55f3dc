package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aztfboot/aztfboot/internal/azure"
	"github.com/aztfboot/aztfboot/internal/devops"
	"github.com/aztfboot/aztfboot/internal/message"
)

func TestMain(m *testing.M) {
	message.SetSilentMode(true)
	m.Run()
}

type fakeCloud struct {
	calls []string

	verifyErr     error
	identityErr   error
	groupErr      error
	stateStoreErr error
	grantErr      error
	federationErr error

	grants []string
	trust  *azure.FederatedTrust
}

func (f *fakeCloud) VerifySubscription(ctx context.Context) error {
	f.calls = append(f.calls, "verify")
	return f.verifyErr
}

func (f *fakeCloud) CreateAppIdentity(ctx context.Context, displayName string) (*azure.AppIdentity, error) {
	f.calls = append(f.calls, "identity")
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	return &azure.AppIdentity{
		ObjectId:           "app-object-1",
		DisplayName:        displayName,
		ClientId:           "client-1",
		ServicePrincipalId: "sp-1",
	}, nil
}

func (f *fakeCloud) CreateResourceGroup(ctx context.Context, name, region string) (*azure.ResourceGroup, error) {
	f.calls = append(f.calls, "resource-group")
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	if region == "" {
		region = azure.DefaultRegion
	}
	return &azure.ResourceGroup{Name: name, Region: region}, nil
}

func (f *fakeCloud) CreateStateStore(ctx context.Context, params azure.StateStoreParams) (*azure.StateStore, error) {
	f.calls = append(f.calls, "state-store")
	if f.stateStoreErr != nil {
		return nil, f.stateStoreErr
	}
	return &azure.StateStore{
		AccountName:   params.AccountName,
		ContainerName: params.ContainerName,
		AccountId:     "account-id-1",
	}, nil
}

func (f *fakeCloud) GrantRole(ctx context.Context, principalId string, kind azure.PrincipalKind, roleId, scope string) error {
	f.calls = append(f.calls, "grant")
	f.grants = append(f.grants, fmt.Sprintf("%s|%s|%s|%s", principalId, kind, roleId, scope))
	return f.grantErr
}

func (f *fakeCloud) ContainerScope(resourceGroup, accountName, containerName string) string {
	return fmt.Sprintf("/rg/%s/sa/%s/c/%s", resourceGroup, accountName, containerName)
}

func (f *fakeCloud) ResourceGroupScope(resourceGroup string) string {
	return "/rg/" + resourceGroup
}

func (f *fakeCloud) CreateFederatedCredential(ctx context.Context, appObjectId string, trust azure.FederatedTrust) error {
	f.calls = append(f.calls, "federated-credential")
	if f.federationErr != nil {
		return f.federationErr
	}
	f.trust = &trust
	return nil
}

type fakeBinder struct {
	called bool
	err    error
	params devops.ServiceConnectionParams
}

func (f *fakeBinder) CreateServiceConnection(ctx context.Context, params devops.ServiceConnectionParams) (*devops.ServiceConnection, error) {
	f.called = true
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &devops.ServiceConnection{
		Id:       "endpoint-1",
		Name:     params.Name,
		Subject:  "sc://acme/infra/" + params.Name,
		Issuer:   "https://vstoken.dev.azure.com/123",
		Audience: devops.FederationAudience,
	}, nil
}

func testWorkflowParams() Params {
	return Params{
		AppDisplayName:     "terraform-deployer",
		ResourceGroupName:  "rg-terraform-state",
		Region:             "westeurope",
		StorageAccountName: "satfstate",
		ContainerName:      "tfstate",
		ConnectionName:     "tf-deploy",
		TenantId:           "tenant-1",
		SubscriptionId:     "sub-1",
		SubscriptionName:   "pay-as-you-go",
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path produces a complete summary", func(t *testing.T) {
		cloud := &fakeCloud{}
		binder := &fakeBinder{}

		summary, err := Run(ctx, cloud, binder, testWorkflowParams())
		require.NoError(t, err)

		assert.NotEmpty(t, summary.AppIdentity.ClientId)
		assert.Equal(t, "rg-terraform-state", summary.ResourceGroup.Name)
		assert.Equal(t, "satfstate", summary.StateStore.AccountName)
		assert.Contains(t, summary.FederatedTrust.Subject, "tf-deploy")
		assert.Equal(t, summary.ServiceConnection.Subject, summary.FederatedTrust.Subject)
		assert.Equal(t, summary.ServiceConnection.Issuer, summary.FederatedTrust.Issuer)
		assert.Equal(t, devops.FederationAudience, summary.FederatedTrust.Audience)

		// The connection authenticates as the new service principal.
		assert.Equal(t, "client-1", binder.params.ClientId)

		require.Len(t, cloud.grants, 2)
		assert.Equal(t, "sp-1|ServicePrincipal|"+azure.StorageBlobDataContributorRoleId+"|/rg/rg-terraform-state/sa/satfstate/c/tfstate", cloud.grants[0])
		assert.Equal(t, "sp-1|ServicePrincipal|"+azure.ContributorRoleId+"|/rg/rg-terraform-state", cloud.grants[1])

		assert.Equal(t, []string{"verify", "identity", "resource-group", "state-store", "grant", "grant", "federated-credential"}, cloud.calls)
	})

	t.Run("identity failure aborts everything downstream", func(t *testing.T) {
		cloud := &fakeCloud{identityErr: errors.New("graph unavailable")}
		binder := &fakeBinder{}

		_, err := Run(ctx, cloud, binder, testWorkflowParams())
		require.Error(t, err)
		assert.Equal(t, []string{"verify", "identity"}, cloud.calls)
		assert.False(t, binder.called)
	})

	t.Run("state store failure stops before any grant", func(t *testing.T) {
		cloud := &fakeCloud{stateStoreErr: azure.ErrStorageNameTaken}
		binder := &fakeBinder{}

		_, err := Run(ctx, cloud, binder, testWorkflowParams())
		require.ErrorIs(t, err, azure.ErrStorageNameTaken)
		assert.Empty(t, cloud.grants)
		assert.False(t, binder.called)
	})

	t.Run("connection failure leaves no federated credential", func(t *testing.T) {
		cloud := &fakeCloud{}
		binder := &fakeBinder{err: errors.New("access denied")}

		_, err := Run(ctx, cloud, binder, testWorkflowParams())
		require.Error(t, err)
		assert.NotContains(t, cloud.calls, "federated-credential")
	})

	t.Run("federated credential failure is surfaced", func(t *testing.T) {
		cloud := &fakeCloud{federationErr: errors.New("graph throttled")}
		binder := &fakeBinder{}

		_, err := Run(ctx, cloud, binder, testWorkflowParams())
		require.Error(t, err)
		assert.True(t, binder.called, "the orphaned service connection is a documented partial state")
	})
}
