// Package workflow runs the bootstrap as one strictly sequential pass:
// identity, resource group, state store, role grants, CI/CD trust. Every
// failure aborts the remaining steps. Nothing is rolled back; the operator
// inspects the partial result and remediates by hand, which is a deliberate
// property of a one-shot bootstrap rather than a gap.
package workflow

import (
	"context"
	"fmt"

	"github.com/aztfboot/aztfboot/internal/azure"
	"github.com/aztfboot/aztfboot/internal/devops"
	"github.com/aztfboot/aztfboot/internal/message"
)

// CloudProvider is the Azure surface the workflow drives.
type CloudProvider interface {
	VerifySubscription(ctx context.Context) error
	CreateAppIdentity(ctx context.Context, displayName string) (*azure.AppIdentity, error)
	CreateResourceGroup(ctx context.Context, name, region string) (*azure.ResourceGroup, error)
	CreateStateStore(ctx context.Context, params azure.StateStoreParams) (*azure.StateStore, error)
	GrantRole(ctx context.Context, principalId string, kind azure.PrincipalKind, roleId, scope string) error
	ContainerScope(resourceGroup, accountName, containerName string) string
	ResourceGroupScope(resourceGroup string) string
	CreateFederatedCredential(ctx context.Context, appObjectId string, trust azure.FederatedTrust) error
}

// TrustBinder is the CI/CD platform surface the workflow drives.
type TrustBinder interface {
	CreateServiceConnection(ctx context.Context, params devops.ServiceConnectionParams) (*devops.ServiceConnection, error)
}

type Params struct {
	AppDisplayName     string
	ResourceGroupName  string
	Region             string
	StorageAccountName string
	ContainerName      string
	ConnectionName     string

	TenantId         string
	SubscriptionId   string
	SubscriptionName string
}

// Summary describes everything the run created, for operator inspection.
type Summary struct {
	AppIdentity       *azure.AppIdentity        `yaml:"app_identity"`
	ResourceGroup     *azure.ResourceGroup      `yaml:"resource_group"`
	StateStore        *azure.StateStore         `yaml:"state_store"`
	ServiceConnection *devops.ServiceConnection `yaml:"service_connection"`
	FederatedTrust    *azure.FederatedTrust     `yaml:"federated_trust"`
}

func Run(ctx context.Context, cloud CloudProvider, binder TrustBinder, params Params) (*Summary, error) {
	if err := cloud.VerifySubscription(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify subscription: %w", err)
	}

	identity, err := cloud.CreateAppIdentity(ctx, params.AppDisplayName)
	if err != nil {
		return nil, fmt.Errorf("failed to create app identity: %w", err)
	}

	resourceGroup, err := cloud.CreateResourceGroup(ctx, params.ResourceGroupName, params.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource group: %w", err)
	}

	stateStore, err := cloud.CreateStateStore(ctx, azure.StateStoreParams{
		AccountName:   params.StorageAccountName,
		ContainerName: params.ContainerName,
		ResourceGroup: resourceGroup.Name,
		Region:        resourceGroup.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}

	containerScope := cloud.ContainerScope(resourceGroup.Name, stateStore.AccountName, stateStore.ContainerName)
	if err := cloud.GrantRole(ctx, identity.ServicePrincipalId, azure.PrincipalKindServicePrincipal,
		azure.StorageBlobDataContributorRoleId, containerScope); err != nil {
		return nil, fmt.Errorf("failed to grant state container access: %w", err)
	}
	if err := cloud.GrantRole(ctx, identity.ServicePrincipalId, azure.PrincipalKindServicePrincipal,
		azure.ContributorRoleId, cloud.ResourceGroupScope(resourceGroup.Name)); err != nil {
		return nil, fmt.Errorf("failed to grant resource group access: %w", err)
	}

	connection, err := binder.CreateServiceConnection(ctx, devops.ServiceConnectionParams{
		Name:             params.ConnectionName,
		TenantId:         params.TenantId,
		SubscriptionId:   params.SubscriptionId,
		SubscriptionName: params.SubscriptionName,
		ClientId:         identity.ClientId,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create service connection: %w", err)
	}

	trust := azure.FederatedTrust{
		Name:        params.ConnectionName,
		Subject:     connection.Subject,
		Issuer:      connection.Issuer,
		Audience:    connection.Audience,
		Description: fmt.Sprintf("Workload identity federation for Azure DevOps service connection '%s'", params.ConnectionName),
	}
	// A failure here strands the service connection just created with no
	// matching trust; the operator has to delete or repair it by hand.
	if err := cloud.CreateFederatedCredential(ctx, identity.ObjectId, trust); err != nil {
		return nil, fmt.Errorf("failed to create federated credential: %w", err)
	}

	message.Success("Bootstrap complete: service connection '%s' can now deploy to subscription '%s'",
		connection.Name, params.SubscriptionName)

	return &Summary{
		AppIdentity:       identity,
		ResourceGroup:     resourceGroup,
		StateStore:        stateStore,
		ServiceConnection: connection,
		FederatedTrust:    &trust,
	}, nil
}
