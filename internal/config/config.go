package config

import (
	"fmt"
	"sort"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config carries every setting the bootstrap needs. It is built once by
// Load and treated as immutable afterwards; every downstream component
// receives it explicitly instead of reading ambient state.
type Config struct {
	Azure  AzureConfig
	DevOps DevOpsConfig
}

type AzureConfig struct {
	TenantId         string
	SubscriptionId   string
	SubscriptionName string
}

type DevOpsConfig struct {
	OrgId       string
	OrgName     string
	ProjectId   string
	ProjectName string
	AccessToken string
}

// Configuration options
const (
	AzureTenantId         = "azure.tenant-id"
	AzureSubscriptionId   = "azure.subscription-id"
	AzureSubscriptionName = "azure.subscription-name"
	DevOpsOrgId           = "devops.org-id"
	DevOpsOrgName         = "devops.org-name"
	DevOpsProjectId       = "devops.project-id"
	DevOpsProjectName     = "devops.project-name"
	DevOpsAccessToken     = "devops.access-token"
)

func init() {
	// Every option is also configurable through the environment,
	// e.g. --azure.tenant-id becomes AZTFBOOT_AZURE_TENANT_ID.
	viper.SetEnvPrefix("AZTFBOOT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetConfigName("aztfboot")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/aztfboot")
}

// BindFlags registers every configuration option on the given flag set and
// binds it into viper. The flag set is expected to belong to the command
// that will call Load.
func BindFlags(flags *flag.FlagSet) error {
	flags.String(AzureTenantId, "", "Entra ID tenant ID of the target subscription")
	flags.String(AzureSubscriptionId, "", "ID of the Azure subscription to bootstrap")
	flags.String(AzureSubscriptionName, "", "Display name of the Azure subscription to bootstrap")
	flags.String(DevOpsOrgId, "", "Azure DevOps organization ID (issuer of federation tokens)")
	flags.String(DevOpsOrgName, "", "Azure DevOps organization name")
	flags.String(DevOpsProjectId, "", "Azure DevOps project ID")
	flags.String(DevOpsProjectName, "", "Azure DevOps project name")
	flags.String(DevOpsAccessToken, "", "Azure DevOps personal access token (prompted for when not set)")

	return viper.BindPFlags(flags)
}

// Load reads the optional config file and materializes the configuration.
// Validation is separate so the caller can prompt for the secret token
// before deciding the configuration is complete.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{
		Azure: AzureConfig{
			TenantId:         viper.GetString(AzureTenantId),
			SubscriptionId:   viper.GetString(AzureSubscriptionId),
			SubscriptionName: viper.GetString(AzureSubscriptionName),
		},
		DevOps: DevOpsConfig{
			OrgId:       viper.GetString(DevOpsOrgId),
			OrgName:     viper.GetString(DevOpsOrgName),
			ProjectId:   viper.GetString(DevOpsProjectId),
			ProjectName: viper.GetString(DevOpsProjectName),
			AccessToken: viper.GetString(DevOpsAccessToken),
		},
	}, nil
}

// Validate reports every missing required setting at once, so a single run
// surfaces all misconfiguration instead of just the first key. The access
// token is not required here because it may be supplied interactively.
func (c *Config) Validate() error {
	required := map[string]string{
		AzureTenantId:         c.Azure.TenantId,
		AzureSubscriptionId:   c.Azure.SubscriptionId,
		AzureSubscriptionName: c.Azure.SubscriptionName,
		DevOpsOrgId:           c.DevOps.OrgId,
		DevOpsOrgName:         c.DevOps.OrgName,
		DevOpsProjectId:       c.DevOps.ProjectId,
		DevOpsProjectName:     c.DevOps.ProjectName,
	}

	missing := make([]string, 0, len(required))
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
