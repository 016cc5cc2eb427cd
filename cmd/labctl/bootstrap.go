package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcourtman/vmlab-orchestrator/internal/config"
)

var osExit = os.Exit

var bootstrapTokenCmd = &cobra.Command{
	Use:   "bootstrap-token",
	Short: "Display the bootstrap setup token",
	Long: `Display the bootstrap setup token stored in the data directory.

The token file is printed as-is: labctl itself does not generate it, does
not accept it through its API, and does not delete it.`,
	Run: func(cmd *cobra.Command, args []string) {
		showBootstrapToken()
	},
}

func showBootstrapToken() {
	dataDir := os.Getenv("LABCTL_DATA_DIR")
	if dataDir == "" {
		dataDir = "/etc/labctl"
	}
	cfg := &config.Config{DataDir: dataDir}
	tokenPath := cfg.BootstrapTokenPath()

	data, err := os.ReadFile(tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("╔═══════════════════════════════════════════════════════════════════════╗")
			fmt.Println("║                    NO BOOTSTRAP TOKEN FOUND                           ║")
			fmt.Println("╠═══════════════════════════════════════════════════════════════════════╣")
			fmt.Println("║  Possible reasons:                                                    ║")
			fmt.Println("║  • Initial setup has already been completed                           ║")
			fmt.Println("║  • The token file has not been created                                ║")
			fmt.Printf("║  • Token file not found: %-44s║\n", tokenPath)
			fmt.Println("╚═══════════════════════════════════════════════════════════════════════╝")
			osExit(1)
			return
		}
		fmt.Printf("Error reading bootstrap token: %v\n", err)
		osExit(1)
		return
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		fmt.Println("Error: Bootstrap token file is empty")
		osExit(1)
		return
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════════════╗")
	fmt.Println("║          BOOTSTRAP TOKEN FOR FIRST-TIME SETUP                         ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Token: %-61s ║\n", token)
	fmt.Printf("║  File:  %-61s ║\n", tokenPath)
	fmt.Println("╠═══════════════════════════════════════════════════════════════════════╣")
	fmt.Println("║  labctl itself does not generate, consume or delete this token.       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════════╝")
}
