package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/aztfboot/aztfboot/internal/message"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "westeurope"

type ResourceGroup struct {
	Name   string `yaml:"name"`
	Region string `yaml:"region"`
}

func (p *Provider) CreateResourceGroup(ctx context.Context, name, region string) (*ResourceGroup, error) {
	if region == "" {
		region = DefaultRegion
	}

	rgClient, err := armresources.NewResourceGroupsClient(p.subscriptionId, p.credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Resource Group client, %w", err)
	}

	message.Info("Creating resource group: az group create --name %s --location %s", name, region)
	resp, err := rgClient.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(region),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource group '%s', %w", name, err)
	}

	return &ResourceGroup{
		Name:   *resp.Name,
		Region: region,
	}, nil
}
