package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "webhookctl",
		Short:   "Sign and send commerce webhook payloads to a storefront API",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("secret", os.Getenv("COMMERCE_WEBHOOK_SECRET"), "Webhook signing secret")

	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(sendCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
