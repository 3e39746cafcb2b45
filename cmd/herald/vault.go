package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/herald/internal/adapter/driven/vault"
	"github.com/ericfisherdev/herald/internal/config"
	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the encrypted credential store",
	Long: `Manage the encrypted credential store offline. The store and key file
locations come from the vault section of herald.yaml.`,
}

var vaultInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a key file and an empty credential store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if _, err := os.Stat(cfg.Vault.KeyFile); err == nil {
			return fmt.Errorf("key file already exists at %s", cfg.Vault.KeyFile)
		}

		key, err := newKey()
		if err != nil {
			return err
		}

		if err := writeKeyFile(cfg.Vault.KeyFile, key); err != nil {
			return err
		}

		if err := vault.Init(cfg.Vault.Path, key); err != nil {
			return err
		}

		printSuccess("key file written to %s", cfg.Vault.KeyFile)
		printSuccess("empty store created at %s", cfg.Vault.Path)
		printWarning("back up the key file, without it the store cannot be opened")
		return nil
	},
}

var vaultSetCmd = &cobra.Command{
	Use:   "set <platform> <field=value>...",
	Short: "Store or update a platform's credential fields",
	Long: `Store or update a platform's credential fields. Existing fields not
named are kept. A value of "-" is read from stdin, keeping the secret out
of shell history:

  herald vault set github token=- username=herald-bot < token.txt`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, err := openVaultFromConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		platform := args[0]

		fields := make(map[string]string)
		if rec, err := v.Get(ctx, platform); err == nil {
			fields = rec.Fields
		} else if !errors.Is(err, driven.ErrCredentialNotFound) {
			return err
		}

		stdinUsed := false
		for _, pair := range args[1:] {
			name, value, ok := strings.Cut(pair, "=")
			if !ok || name == "" {
				return fmt.Errorf("invalid field %q: expected name=value", pair)
			}
			if value == "-" {
				if stdinUsed {
					return fmt.Errorf("only one field may read from stdin")
				}
				stdinUsed = true
				value, err = readSecretLine()
				if err != nil {
					return err
				}
			}
			fields[name] = value
		}

		if err := v.Put(ctx, model.CredentialRecord{PlatformID: platform, Fields: fields}); err != nil {
			return err
		}

		printSuccess("stored %d field(s) for %s", len(fields), platform)
		return nil
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <platform>",
	Short: "Show a platform's credential fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reveal, _ := cmd.Flags().GetBool("reveal")

		v, _, err := openVaultFromConfig()
		if err != nil {
			return err
		}

		rec, err := v.Get(context.Background(), args[0])
		if err != nil {
			return err
		}

		names := make([]string, 0, len(rec.Fields))
		for name := range rec.Fields {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("%s (version %d)\n", rec.PlatformID, rec.Version)
		for _, name := range names {
			value := "********"
			if reveal {
				value = rec.Fields[name]
			}
			fmt.Printf("  %s = %s\n", name, value)
		}
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List platforms with stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, err := openVaultFromConfig()
		if err != nil {
			return err
		}

		ids, err := v.List(context.Background())
		if err != nil {
			return err
		}

		if len(ids) == 0 {
			printWarning("vault is empty")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var vaultRmCmd = &cobra.Command{
	Use:   "rm <platform>",
	Short: "Remove a platform's credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, err := openVaultFromConfig()
		if err != nil {
			return err
		}

		if err := v.Delete(context.Background(), args[0]); err != nil {
			return err
		}
		printSuccess("removed credentials for %s", args[0])
		return nil
	},
}

var vaultRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encrypt the store under a freshly generated key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, cfg, err := openVaultFromConfig()
		if err != nil {
			return err
		}

		key, err := newKey()
		if err != nil {
			return err
		}

		// Stage the new key on disk before touching the store, so no
		// failure ordering can leave the store without its key.
		staged := cfg.Vault.KeyFile + ".new"
		if err := writeKeyFile(staged, key); err != nil {
			return err
		}

		if err := v.RotateKey(context.Background(), key); err != nil {
			os.Remove(staged)
			return err
		}

		if err := os.Rename(staged, cfg.Vault.KeyFile); err != nil {
			return fmt.Errorf("store rotated but key file update failed, new key is at %s: %w", staged, err)
		}

		printSuccess("store re-encrypted, key file updated")
		return nil
	},
}

// openVaultFromConfig opens the store using the paths in the config file.
func openVaultFromConfig() (*vault.Vault, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	key, err := config.LoadKeyFile(cfg.Vault.KeyFile)
	if err != nil {
		return nil, nil, err
	}

	v, err := vault.Open(cfg.Vault.Path, key)
	if err != nil {
		if errors.Is(err, driven.ErrMissing) {
			return nil, nil, fmt.Errorf(`%w (run "herald vault init" first)`, err)
		}
		return nil, nil, err
	}
	return v, cfg, nil
}

func newKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

func writeKeyFile(path string, key []byte) error {
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

func readSecretLine() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return "", fmt.Errorf("stdin is empty")
	}
	return strings.TrimSpace(scanner.Text()), nil
}

func init() {
	vaultGetCmd.Flags().Bool("reveal", false, "print field values instead of masking them")

	vaultCmd.AddCommand(vaultInitCmd)
	vaultCmd.AddCommand(vaultSetCmd)
	vaultCmd.AddCommand(vaultGetCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultRmCmd)
	vaultCmd.AddCommand(vaultRotateCmd)
}
