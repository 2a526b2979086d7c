package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/blnkfinance/collect/config"
	"github.com/spf13/cobra"
)

// configCommands prints the computed configuration with credentials masked.
func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "config outputs your instance's computed configuration",
		Annotations: map[string]string{"skip_collector": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			masked := *cfg
			masked.Server.SecretKey = mask(masked.Server.SecretKey)
			masked.Gateway.ServiceKey = mask(masked.Gateway.ServiceKey)
			masked.Gateway.SoftwareVendorKey = mask(masked.Gateway.SoftwareVendorKey)
			masked.Archive.AwsSecretAccessKey = mask(masked.Archive.AwsSecretAccessKey)

			data, err := json.MarshalIndent(masked, "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
