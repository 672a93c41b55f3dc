package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/aztfboot/aztfboot/internal/azure"
	"github.com/aztfboot/aztfboot/internal/config"
	"github.com/aztfboot/aztfboot/internal/devops"
	"github.com/aztfboot/aztfboot/internal/message"
	"github.com/aztfboot/aztfboot/internal/workflow"
)

var (
	appDisplayName     string
	resourceGroupName  string
	location           string
	storageAccountName string
	containerName      string
	connectionName     string
	assumeYes          bool
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Provision the Terraform state store and an Azure DevOps service connection",
	Long: `Creates an app registration with a service principal, a resource group,
a storage account with a blob container for Terraform state, role assignments
for the service principal, and an Azure DevOps service connection bound to the
app registration through workload identity federation.

The run is one-shot: it does not reconcile existing resources and a rerun
fails on the first name that already exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.DevOps.AccessToken == "" {
			token, err := message.PromptSecret("Enter an Azure DevOps personal access token:")
			if err != nil {
				return err
			}
			cfg.DevOps.AccessToken = token
		}

		if storageAccountName == "" {
			// Storage account names are globally unique, so there is no
			// safe default to offer.
			storageAccountName, err = message.Prompt("Enter a globally unique name for the state storage account:", "")
			if err != nil {
				return err
			}
		}
		if location == "" {
			location = azure.DefaultRegion
		}

		message.Info("Bootstrapping subscription '%s' (%s) for Azure DevOps project '%s/%s'",
			cfg.Azure.SubscriptionName, cfg.Azure.SubscriptionId, cfg.DevOps.OrgName, cfg.DevOps.ProjectName)
		message.Warning("The storage account is created with its network default action set to Allow so Azure DevOps hosted runners can reach it")
		if !assumeYes {
			proceed, err := message.BoolSelect("Proceed?")
			if err != nil {
				return fmt.Errorf("failed to get user input: %w", err)
			}
			if !proceed {
				return nil
			}
		}

		provider, err := azure.NewProvider(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize azure provider: %w", err)
		}
		client := devops.NewClient(
			devops.Organization{Id: cfg.DevOps.OrgId, Name: cfg.DevOps.OrgName},
			devops.Project{Id: cfg.DevOps.ProjectId, Name: cfg.DevOps.ProjectName},
			cfg.DevOps.AccessToken,
		)

		summary, err := workflow.Run(ctx, provider, client, workflow.Params{
			AppDisplayName:     appDisplayName,
			ResourceGroupName:  resourceGroupName,
			Region:             location,
			StorageAccountName: storageAccountName,
			ContainerName:      containerName,
			ConnectionName:     connectionName,
			TenantId:           cfg.Azure.TenantId,
			SubscriptionId:     cfg.Azure.SubscriptionId,
			SubscriptionName:   cfg.Azure.SubscriptionName,
		})
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to render summary: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)

	bootstrapCmd.Flags().StringVar(&appDisplayName, "app-name", "terraform-deployer", "display name for the app registration")
	bootstrapCmd.Flags().StringVar(&resourceGroupName, "resource-group", "rg-terraform-state", "name of the resource group to create")
	bootstrapCmd.Flags().StringVar(&location, "location", "", "Azure region for the created resources (default "+azure.DefaultRegion+")")
	bootstrapCmd.Flags().StringVar(&storageAccountName, "storage-account", "", "globally unique name for the state storage account (prompted for when not set)")
	bootstrapCmd.Flags().StringVar(&containerName, "container", "tfstate", "name of the blob container holding Terraform state")
	bootstrapCmd.Flags().StringVar(&connectionName, "connection-name", "tf-deploy", "name of the Azure DevOps service connection to create")
	bootstrapCmd.Flags().BoolVar(&assumeYes, "yes", false, "skip the confirmation prompt")

	cobra.CheckErr(config.BindFlags(bootstrapCmd.Flags()))
}
