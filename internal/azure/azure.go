package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
	"github.com/golang-jwt/jwt/v5"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"

	"github.com/aztfboot/aztfboot/internal/config"
	"github.com/aztfboot/aztfboot/internal/message"
)

const armScope = "https://management.azure.com//.default"

// Provider bundles the credential and identifiers every Azure operation
// needs. It is read-only after construction.
type Provider struct {
	credential     azcore.TokenCredential
	graph          *msgraphsdk.GraphServiceClient
	tenantId       string
	subscriptionId string
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load azure default credentials, %w", err)
	}

	graph, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client, %w", err)
	}

	return &Provider{
		credential:     cred,
		graph:          graph,
		tenantId:       cfg.Azure.TenantId,
		subscriptionId: cfg.Azure.SubscriptionId,
	}, nil
}

// VerifySubscription checks that the configured subscription is visible to
// the caller before any resource is created, so a wrong subscription id
// fails here rather than halfway through provisioning.
func (p *Provider) VerifySubscription(ctx context.Context) error {
	clientFactory, err := armsubscriptions.NewClientFactory(p.credential, nil)
	if err != nil {
		return fmt.Errorf("failed to create Subscriptions client, %w", err)
	}
	resp, err := clientFactory.NewClient().Get(ctx, p.subscriptionId, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("subscription %s is not visible to the signed-in account", p.subscriptionId)
		}
		return fmt.Errorf("failed to get subscription %s, %w", p.subscriptionId, err)
	}
	message.Debug("Subscription found: %s (%s)", p.subscriptionId, *resp.DisplayName)
	return nil
}

// CallerObjectId returns the directory object id of the signed-in caller,
// taken from the oid claim of an ARM access token. Managing containers
// needs a data-plane role on the storage account even when the caller
// already holds control-plane rights, and the assignment needs this id.
func (p *Provider) CallerObjectId(ctx context.Context) (string, error) {
	token, err := p.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{armScope}})
	if err != nil {
		return "", fmt.Errorf("failed to get access token, %w", err)
	}
	claims := make(jwt.MapClaims)
	if _, _, err = jwt.NewParser().ParseUnverified(token.Token, claims); err != nil {
		return "", fmt.Errorf("failed to parse access token, %w", err)
	}
	oid, _ := claims["oid"].(string)
	if oid == "" {
		return "", errors.New("access token carries no oid claim")
	}
	return oid, nil
}
