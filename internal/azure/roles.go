package azure

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/google/uuid"

	"github.com/aztfboot/aztfboot/internal/message"
)

// Built-in role definition ids.
const (
	StorageBlobDataContributorRoleId = "ba92f5b4-2d11-453d-a403-e96b0029c9fe"
	ContributorRoleId                = "b24988ac-6180-42a0-ab88-20f7382dd24c"
)

type PrincipalKind string

const (
	PrincipalKindUser             PrincipalKind = "User"
	PrincipalKindServicePrincipal PrincipalKind = "ServicePrincipal"
)

// GrantRole assigns the built-in role identified by roleId to the principal
// at the given scope. A RoleAssignmentExists conflict is tolerated because
// the desired grant verifiably exists; every other failure is fatal.
func (p *Provider) GrantRole(ctx context.Context, principalId string, kind PrincipalKind, roleId, scope string) error {
	clientFactory, err := armauthorization.NewClientFactory(p.subscriptionId, p.credential, nil)
	if err != nil {
		return fmt.Errorf("failed to create Azure authorization client, %w", err)
	}
	azClient := clientFactory.NewRoleAssignmentsClient()

	roleDefinitionId := p.roleDefinitionId(roleId)
	message.Info("Assigning role: az role assignment create --assignee %s --role %s --scope %s",
		principalId, roleDefinitionId, scope)

	roleAssignmentName := uuid.New().String()
	resp, err := azClient.Create(ctx, scope, roleAssignmentName, armauthorization.RoleAssignmentCreateParameters{
		Properties: &armauthorization.RoleAssignmentProperties{
			PrincipalID:      to.Ptr(principalId),
			RoleDefinitionID: to.Ptr(roleDefinitionId),
			PrincipalType:    to.Ptr(armauthorization.PrincipalType(kind)),
		},
	}, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "RoleAssignmentExists" {
			message.Info("Role Assignment already exists")
			return nil
		}
		return fmt.Errorf("failed to create Role Assignment, %w", err)
	}
	message.Info("Role Assignment created: %s", *resp.Name)
	return nil
}

func (p *Provider) roleDefinitionId(roleId string) string {
	return fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s",
		p.subscriptionId, roleId)
}

// ResourceGroupScope returns the role-assignment scope of a resource group.
func (p *Provider) ResourceGroupScope(resourceGroup string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", p.subscriptionId, resourceGroup)
}

// ContainerScope returns the role-assignment scope of a single blob
// container inside a storage account.
func (p *Provider) ContainerScope(resourceGroup, accountName, containerName string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Storage/storageAccounts/%s/blobServices/default/containers/%s",
		p.subscriptionId, resourceGroup, accountName, containerName)
}
