// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/agora-forum/agora/internal/auth"
	"github.com/agora-forum/agora/internal/xdg"
)

// keysConfig holds flags for keys generate.
type keysConfig struct {
	algorithm string
	dir       string
	force     bool
}

// NewKeysCmd creates the keys subcommand.
func NewKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage token signing keys",
	}
	cmd.AddCommand(newKeysGenerateCmd())
	return cmd
}

func newKeysGenerateCmd() *cobra.Command {
	cfg := &keysConfig{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a token signing key pair",
		Long: `Generate a PEM key pair for signing access and refresh tokens. The
files are written to the XDG keys directory unless --dir is given, where
serve finds them when tokens.private_key_file is unset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeysGenerate(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.algorithm, "algorithm", string(auth.AlgorithmEdDSA), "signing algorithm (EdDSA or RS256)")
	cmd.Flags().StringVar(&cfg.dir, "dir", "", "output directory (default: XDG_CONFIG_HOME/agora/keys)")
	cmd.Flags().BoolVar(&cfg.force, "force", false, "overwrite an existing key pair")

	return cmd
}

func runKeysGenerate(cmd *cobra.Command, cfg *keysConfig) error {
	dir := cfg.dir
	if dir == "" {
		var err error
		if dir, err = xdg.KeysDir(); err != nil {
			return err
		}
	}
	privPath := filepath.Join(dir, privateKeyFileName)
	pubPath := filepath.Join(dir, publicKeyFileName)

	if !cfg.force {
		for _, path := range []string{privPath, pubPath} {
			if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
				return oops.Code("KEY_EXISTS").
					With("path", path).
					Hint("pass --force to replace it").
					Errorf("key file already exists")
			}
		}
	}

	priv, pub, err := auth.GenerateKeyPair(auth.Algorithm(cfg.algorithm))
	if err != nil {
		return err
	}

	if err := xdg.EnsureDir(dir); err != nil {
		return err
	}
	if err := os.WriteFile(privPath, priv, 0o600); err != nil {
		return oops.Code("KEY_WRITE_FAILED").With("path", privPath).Wrap(err)
	}
	if err := os.WriteFile(pubPath, pub, 0o644); err != nil { //nolint:gosec // public key
		return oops.Code("KEY_WRITE_FAILED").With("path", pubPath).Wrap(err)
	}

	cmd.Printf("Wrote %s key pair:\n  %s\n  %s\n", cfg.algorithm, privPath, pubPath)
	return nil
}
