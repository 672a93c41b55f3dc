package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/sethvargo/go-retry"

	"github.com/aztfboot/aztfboot/internal/message"
)

// Container creation races against role-assignment propagation, which is
// eventually consistent with no upper bound in practice. Ten attempts
// fifteen seconds apart cover the delays observed on real tenants.
const (
	containerCreateAttempts = 10
	containerCreateDelay    = 15 * time.Second
)

var (
	// ErrStorageNameTaken means the requested account name is already in
	// use somewhere in Azure; account names are globally unique.
	ErrStorageNameTaken = errors.New("storage account name is already taken")

	// ErrContainerExists means the blob container was already present.
	// This is a conflict, not a propagation delay, and is never retried.
	ErrContainerExists = errors.New("blob container already exists")

	// ErrContainerRetriesExhausted means container creation kept failing
	// on authorization until the attempt budget was spent.
	ErrContainerRetriesExhausted = errors.New("blob container creation retries exhausted")
)

type StateStore struct {
	AccountName   string `yaml:"account_name"`
	ContainerName string `yaml:"container_name"`
	AccountId     string `yaml:"account_id"`
}

type StateStoreParams struct {
	AccountName   string
	ContainerName string
	ResourceGroup string
	Region        string
}

// storageAccounts is the narrow slice of the storage control plane the
// provisioner needs.
type storageAccounts interface {
	IsNameAvailable(ctx context.Context, accountName string) (bool, error)
	Create(ctx context.Context, resourceGroup, accountName, region string) (string, error)
}

// blobContainers is the data-plane container surface. Creating containers
// through it is what makes the caller's data-plane grant necessary.
type blobContainers interface {
	Create(ctx context.Context, accountName, containerName string) error
}

// CreateStateStore provisions the storage account and blob container that
// will hold Terraform state. The account is created with a fixed posture:
// no public blob access, no shared-key access, HTTPS only, TLS 1.2
// minimum. The network default action stays Allow because Azure DevOps
// hosted runners come from shared IP ranges that cannot be allow-listed.
func (p *Provider) CreateStateStore(ctx context.Context, params StateStoreParams) (*StateStore, error) {
	clientFactory, err := armstorage.NewClientFactory(p.subscriptionId, p.credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client, %w", err)
	}
	accounts := &armStorageAccounts{client: clientFactory.NewAccountsClient()}
	containers := &azblobContainers{credential: p.credential}

	grantCaller := func(ctx context.Context, accountId string) error {
		callerId, err := p.CallerObjectId(ctx)
		if err != nil {
			return err
		}
		return p.GrantRole(ctx, callerId, PrincipalKindUser, StorageBlobDataContributorRoleId, accountId)
	}

	return p.createStateStore(ctx, accounts, containers, grantCaller, params, retry.NewConstant(containerCreateDelay))
}

func (p *Provider) createStateStore(
	ctx context.Context,
	accounts storageAccounts,
	containers blobContainers,
	grantCaller func(ctx context.Context, accountId string) error,
	params StateStoreParams,
	backoff retry.Backoff,
) (*StateStore, error) {

	available, err := accounts.IsNameAvailable(ctx, params.AccountName)
	if err != nil {
		return nil, fmt.Errorf("failed to check storage account name availability, %w", err)
	}
	if !available {
		return nil, fmt.Errorf("%w: %s", ErrStorageNameTaken, params.AccountName)
	}

	message.Info("Creating storage account: az storage account create --name %s --resource-group %s --location %s --allow-blob-public-access false --allow-shared-key-access false --https-only true --min-tls-version TLS1_2",
		params.AccountName, params.ResourceGroup, params.Region)
	accountId, err := accounts.Create(ctx, params.ResourceGroup, params.AccountName, params.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage account '%s', %w", params.AccountName, err)
	}

	// Control-plane rights on the subscription are not enough to manage
	// containers through the blob endpoint; the caller needs a data-plane
	// role on the new account first.
	if err := grantCaller(ctx, accountId); err != nil {
		return nil, fmt.Errorf("failed to grant caller data-plane access on '%s', %w", params.AccountName, err)
	}

	if err := p.createContainerWithRetries(ctx, containers, params.AccountName, params.ContainerName, backoff); err != nil {
		return nil, err
	}

	return &StateStore{
		AccountName:   params.AccountName,
		ContainerName: params.ContainerName,
		AccountId:     accountId,
	}, nil
}

// createContainerWithRetries retries only while the failure looks like the
// caller's fresh data-plane grant has not propagated yet. A conflict or any
// other error fails immediately.
func (p *Provider) createContainerWithRetries(ctx context.Context, containers blobContainers, accountName, containerName string, backoff retry.Backoff) error {
	message.Info("Creating blob container: az storage container create --name %s --account-name %s --auth-mode login --fail-on-exist",
		containerName, accountName)

	attempts := 0
	err := retry.Do(ctx, retry.WithMaxRetries(containerCreateAttempts-1, backoff), func(ctx context.Context) error {
		attempts++
		err := containers.Create(ctx, accountName, containerName)
		if err == nil {
			return nil
		}
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("%w: %s", ErrContainerExists, containerName)
		}
		if isAuthorizationPending(err) {
			message.Debug("blob container creation not authorized yet, retrying: %v", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrContainerExists) {
		return err
	}
	if attempts == containerCreateAttempts {
		return fmt.Errorf("%w (%d attempts): %w", ErrContainerRetriesExhausted, attempts, err)
	}
	return fmt.Errorf("failed to create blob container '%s', %w", containerName, err)
}

func isAuthorizationPending(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden
}

type armStorageAccounts struct {
	client *armstorage.AccountsClient
}

func (a *armStorageAccounts) IsNameAvailable(ctx context.Context, accountName string) (bool, error) {
	resp, err := a.client.CheckNameAvailability(ctx, armstorage.AccountCheckNameAvailabilityParameters{
		Name: to.Ptr(accountName),
		Type: to.Ptr("Microsoft.Storage/storageAccounts"),
	}, nil)
	if err != nil {
		return false, err
	}
	return resp.NameAvailable != nil && *resp.NameAvailable, nil
}

func (a *armStorageAccounts) Create(ctx context.Context, resourceGroup, accountName, region string) (string, error) {
	poller, err := a.client.BeginCreate(ctx, resourceGroup, accountName, armstorage.AccountCreateParameters{
		SKU: &armstorage.SKU{
			Name: to.Ptr(armstorage.SKUNameStandardLRS),
		},
		Kind:     to.Ptr(armstorage.KindStorageV2),
		Location: to.Ptr(region),
		Properties: &armstorage.AccountPropertiesCreateParameters{
			AllowBlobPublicAccess:  to.Ptr(false),
			AllowSharedKeyAccess:   to.Ptr(false),
			EnableHTTPSTrafficOnly: to.Ptr(true),
			MinimumTLSVersion:      to.Ptr(armstorage.MinimumTLSVersionTLS12),
			NetworkRuleSet: &armstorage.NetworkRuleSet{
				DefaultAction: to.Ptr(armstorage.DefaultActionAllow),
			},
		},
	}, nil)
	if err != nil {
		return "", err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", err
	}
	return *resp.ID, nil
}

type azblobContainers struct {
	credential azcore.TokenCredential
}

func (c *azblobContainers) Create(ctx context.Context, accountName, containerName string) error {
	serviceClient, err := azblob.NewClient(fmt.Sprintf("https://%s.blob.core.windows.net/", accountName), c.credential, nil)
	if err != nil {
		return err
	}
	// Default options keep the container private.
	_, err = serviceClient.CreateContainer(ctx, containerName, nil)
	return err
}
