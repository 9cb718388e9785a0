package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/prsentry/prsentry/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard (with OS keychain support)",
	Long: `Walk through PRSentry configuration step by step.

This will configure:
1. GitHub token (stored in OS keychain when available)
2. LLM provider, API key, and model
3. Review settings (batch budget, fix attempts)`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("PRSentry configuration")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".prsentry", "config.yaml")
	loadedCfg, err := config.Load(configPath)
	if err != nil {
		loadedCfg = config.Default()
	}

	km := config.NewKeyringManager()
	keychainAvailable := km.IsAvailable()
	if !keychainAvailable {
		fmt.Println("OS keychain not available; secrets will be stored in the config file.")
		fmt.Println()
	}

	// Step 1: GitHub token
	fmt.Println("Step 1/3: GitHub token")
	if existing, err := km.GetGitHubToken(); err == nil && existing != "" {
		fmt.Printf("Current: %s (keychain)\n", config.MaskKey(existing))
	}
	token, err := readSecret("GitHub token (Enter to keep current): ")
	if err != nil {
		return err
	}
	if token != "" {
		if keychainAvailable {
			if err := km.SetGitHubToken(token); err != nil {
				fmt.Printf("Keychain save failed (%v), storing in config file\n", err)
				loadedCfg.GitHub.Token = token
			} else {
				fmt.Println("GitHub token saved to keychain")
				loadedCfg.GitHub.Token = ""
			}
		} else {
			loadedCfg.GitHub.Token = token
		}
	}
	fmt.Println()

	// Step 2: LLM provider and key
	fmt.Println("Step 2/3: LLM provider")
	fmt.Printf("Provider [openai/gemini] (current %s): ", loadedCfg.LLM.Provider)
	provider, _ := reader.ReadString('\n')
	provider = strings.TrimSpace(provider)
	if provider == "openai" || provider == "gemini" {
		loadedCfg.LLM.Provider = provider
	}

	apiKey, err := readSecret("API key (Enter to keep current): ")
	if err != nil {
		return err
	}
	if apiKey != "" {
		if keychainAvailable {
			if err := km.SaveAPIKey(apiKey); err != nil {
				fmt.Printf("Keychain save failed (%v), storing in config file\n", err)
				loadedCfg.LLM.APIKey = apiKey
			} else {
				fmt.Println("API key saved to keychain")
				loadedCfg.LLM.APIKey = ""
			}
		} else {
			loadedCfg.LLM.APIKey = apiKey
		}
	}

	fmt.Printf("Model (current %s, Enter to keep): ", loadedCfg.LLM.Model)
	model, _ := reader.ReadString('\n')
	if model = strings.TrimSpace(model); model != "" {
		loadedCfg.LLM.Model = model
	}
	fmt.Println()

	// Step 3: review settings
	fmt.Println("Step 3/3: Review settings")
	fmt.Printf("Batch budget in changed lines (current %d, Enter to keep): ", loadedCfg.Review.BatchBudgetLOC)
	if budget := readInt(reader); budget > 0 {
		loadedCfg.Review.BatchBudgetLOC = budget
	}
	fmt.Printf("Max fix attempts per batch (current %d, Enter to keep): ", loadedCfg.Review.MaxFixAttempts)
	if attempts := readInt(reader); attempts >= 0 {
		loadedCfg.Review.MaxFixAttempts = attempts
	}
	fmt.Println()

	fmt.Printf("Save to %s? (Y/n): ", configPath)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	if response == "" || response == "y" {
		if err := loadedCfg.Save(configPath); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("Configuration saved.")
		fmt.Println()
		fmt.Println("Try it:")
		fmt.Println("  prsentry plan owner/repo#123")
		fmt.Println("  prsentry review owner/repo#123 --dry-run")
	} else {
		fmt.Println("Configuration not saved.")
	}

	return nil
}

// readSecret reads a value without echoing it to the terminal.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func readInt(reader *bufio.Reader) int {
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return -1
	}
	var n int
	if _, err := fmt.Sscanf(line, "%d", &n); err != nil {
		return -1
	}
	return n
}
