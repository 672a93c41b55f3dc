package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"github.com/aztfboot/aztfboot/internal/message"
)

// FederatedTrust is the (subject, issuer, audience) triple an external
// token issuer must present at token-exchange time. The values have to
// match what the issuer sends exactly; a mismatch only shows up at first
// use, never at creation time.
type FederatedTrust struct {
	Name        string `yaml:"name"`
	Subject     string `yaml:"subject"`
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	Description string `yaml:"description,omitempty"`
}

// CreateFederatedCredential registers the trust on the application object
// identified by its directory object id.
func (p *Provider) CreateFederatedCredential(ctx context.Context, appObjectId string, trust FederatedTrust) error {
	message.Info("Creating federated credential: az ad app federated-credential create --id %s --parameters '{\"name\": %q, \"issuer\": %q, \"subject\": %q, \"audiences\": [%q]}'",
		appObjectId, trust.Name, trust.Issuer, trust.Subject, trust.Audience)

	credential := models.NewFederatedIdentityCredential()
	credential.SetName(to.Ptr(trust.Name))
	credential.SetIssuer(to.Ptr(trust.Issuer))
	credential.SetSubject(to.Ptr(trust.Subject))
	credential.SetAudiences([]string{trust.Audience})
	if trust.Description != "" {
		credential.SetDescription(to.Ptr(trust.Description))
	}

	_, err := p.graph.Applications().ByApplicationId(appObjectId).FederatedIdentityCredentials().Post(ctx, credential, nil)
	if err != nil {
		return fmt.Errorf("failed to create federated credential '%s', %w", trust.Name, err)
	}
	return nil
}
