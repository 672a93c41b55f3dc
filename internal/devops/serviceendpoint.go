package devops

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aztfboot/aztfboot/internal/message"
)

// FederationAudience is the audience Azure DevOps presents at token
// exchange; the platform mandates this exact value.
const FederationAudience = "api://AzureADTokenExchange"

const serviceEndpointApiVersion = "7.2-preview.4"

// Wire shapes of the service endpoint API. Kept separate from the
// workflow's own entities so the endpoint schema can move without touching
// them.
type serviceEndpoint struct {
	Id            string                `json:"id,omitempty"`
	Name          string                `json:"name"`
	Type          string                `json:"type"`
	Url           string                `json:"url"`
	Data          endpointData          `json:"data"`
	Authorization endpointAuthorization `json:"authorization"`
	IsShared      bool                  `json:"isShared"`
	IsReady       bool                  `json:"isReady"`

	ServiceEndpointProjectReferences []projectReferenceBinding `json:"serviceEndpointProjectReferences"`
}

type endpointData struct {
	SubscriptionId   string `json:"subscriptionId"`
	SubscriptionName string `json:"subscriptionName"`
	Environment      string `json:"environment"`
	ScopeLevel       string `json:"scopeLevel"`
	CreationMode     string `json:"creationMode"`
}

type endpointAuthorization struct {
	Scheme     string                  `json:"scheme"`
	Parameters authorizationParameters `json:"parameters"`
}

type authorizationParameters struct {
	TenantId           string `json:"tenantid"`
	ServicePrincipalId string `json:"serviceprincipalid"`
}

type projectReferenceBinding struct {
	Name             string           `json:"name"`
	ProjectReference projectReference `json:"projectReference"`
}

type projectReference struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// ServiceConnection is the created connection together with the federation
// values the matching federated credential must carry verbatim.
type ServiceConnection struct {
	Id       string `yaml:"id"`
	Name     string `yaml:"name"`
	Subject  string `yaml:"subject"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

type ServiceConnectionParams struct {
	Name             string
	TenantId         string
	SubscriptionId   string
	SubscriptionName string
	// ClientId of the service principal the connection authenticates as.
	ClientId string
}

// FederationSubject derives the subject Azure DevOps presents for a
// subscription-scoped service connection.
func (c *Client) FederationSubject(connectionName string) string {
	return fmt.Sprintf("sc://%s/%s/%s", c.organization.Name, c.project.Name, connectionName)
}

// FederationIssuer derives the organization-specific token issuer URL.
func FederationIssuer(orgId string) string {
	return "https://vstoken.dev.azure.com/" + orgId
}

// CreateServiceConnection creates a subscription-scoped azurerm service
// connection authorized through workload identity federation; no client
// secret is transmitted or stored.
func (c *Client) CreateServiceConnection(ctx context.Context, params ServiceConnectionParams) (*ServiceConnection, error) {
	message.Info("Creating Azure DevOps service connection '%s' in project '%s'", params.Name, c.project.Name)

	endpoint := serviceEndpoint{
		Name: params.Name,
		Type: "azurerm",
		Url:  "https://management.azure.com/",
		Data: endpointData{
			SubscriptionId:   params.SubscriptionId,
			SubscriptionName: params.SubscriptionName,
			Environment:      "AzureCloud",
			ScopeLevel:       "Subscription",
			CreationMode:     "Manual",
		},
		Authorization: endpointAuthorization{
			Scheme: "WorkloadIdentityFederation",
			Parameters: authorizationParameters{
				TenantId:           params.TenantId,
				ServicePrincipalId: params.ClientId,
			},
		},
		IsReady: true,
		ServiceEndpointProjectReferences: []projectReferenceBinding{
			{
				Name: params.Name,
				ProjectReference: projectReference{
					Id:   c.project.Id,
					Name: c.project.Name,
				},
			},
		},
	}

	var created serviceEndpoint
	err := c.do(ctx, request{
		Method:     http.MethodPost,
		ApiPath:    "serviceendpoint/endpoints",
		ApiVersion: serviceEndpointApiVersion,
		Body:       endpoint,
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to create service connection '%s': %w", params.Name, err)
	}

	return &ServiceConnection{
		Id:       created.Id,
		Name:     params.Name,
		Subject:  c.FederationSubject(params.Name),
		Issuer:   FederationIssuer(c.organization.Id),
		Audience: FederationAudience,
	}, nil
}
