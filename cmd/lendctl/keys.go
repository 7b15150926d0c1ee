package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"lendmarket/cmd/internal/passphrase"
	"lendmarket/crypto"
)

func newKeygenCommand() *cobra.Command {
	var (
		out     string
		passEnv string
		force   bool
		light   bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a principal key and seal it in a keystore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			if !force {
				if _, err := os.Stat(out); err == nil {
					return fmt.Errorf("keystore %s already exists; use --force to overwrite", out)
				}
			}
			pass, err := passphrase.NewSource(passEnv, "New keystore passphrase").Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			strength := crypto.StandardKeystore
			if light {
				strength = crypto.LightKeystore
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
				return fmt.Errorf("create keystore directory: %w", err)
			}
			if err := crypto.SaveToKeystore(out, key, pass, strength); err != nil {
				return fmt.Errorf("write keystore: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), key.PubKey().Address().String())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output path for the keystore file")
	cmd.Flags().StringVar(&passEnv, "pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing keystore file")
	cmd.Flags().BoolVar(&light, "light", false, "Use cheap scrypt parameters (throwaway keys only)")
	return cmd
}

func newAddressCommand() *cobra.Command {
	var (
		keystorePath string
		passEnv      string
	)
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the principal sealed in a keystore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := keystoreAddress(keystorePath, passEnv)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&keystorePath, "keystore", "", "Path to the keystore file")
	cmd.Flags().StringVar(&passEnv, "pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	_ = cmd.MarkFlagRequired("keystore")
	return cmd
}

func keystoreAddress(path, passEnv string) (crypto.Address, error) {
	pass, err := passphrase.NewSource(passEnv, "Keystore passphrase").Get()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("open keystore: %w", err)
	}
	return key.PubKey().Address(), nil
}
