package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"github.com/aztfboot/aztfboot/internal/message"
	"github.com/aztfboot/aztfboot/internal/utils"
)

// AppIdentity describes an app registration and its service principal.
type AppIdentity struct {
	ObjectId           string `yaml:"object_id"`
	DisplayName        string `yaml:"display_name"`
	ClientId           string `yaml:"client_id"`
	ServicePrincipalId string `yaml:"service_principal_id"`
}

// CreateAppIdentity registers an application with the given display name
// and instantiates a service principal for it in the tenant. Display names
// are not unique in Entra ID, so a rerun creates a second registration
// rather than failing; the tool does not check beforehand.
func (p *Provider) CreateAppIdentity(ctx context.Context, displayName string) (*AppIdentity, error) {
	message.Info("Creating app registration: az ad app create --display-name %s", displayName)
	app := models.NewApplication()
	app.SetDisplayName(to.Ptr(displayName))
	createdApp, err := p.graph.Applications().Post(ctx, app, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create application '%s', %w", displayName, err)
	}

	clientId := utils.DeRefOr(createdApp.GetAppId(), "")

	message.Info("Creating service principal: az ad sp create --id %s", clientId)
	sp := models.NewServicePrincipal()
	sp.SetAppId(createdApp.GetAppId())
	createdSp, err := p.graph.ServicePrincipals().Post(ctx, sp, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create service principal for application '%s', %w", displayName, err)
	}

	return &AppIdentity{
		ObjectId:           utils.DeRefOr(createdApp.GetId(), ""),
		DisplayName:        displayName,
		ClientId:           clientId,
		ServicePrincipalId: utils.DeRefOr(createdSp.GetId(), ""),
	}, nil
}
