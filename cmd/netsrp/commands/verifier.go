package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fzdarsky/netsrp/internal/auth"
	"github.com/fzdarsky/netsrp/internal/config"
)

func verifierCmd(a *app) *cobra.Command {
	var (
		username string
		password string
		keySize  int
	)

	cmd := &cobra.Command{
		Use:   "verifier",
		Short: "Generate a credential entry for the configuration file",
		Long: `Generate a random salt and the password verifier for a user and print
them as a YAML credentials entry. Only the verifier is stored; the password
itself never appears in the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			size := keySize
			if size == 0 {
				size = a.cfg.SRP.KeySize
			}

			salt, verifier, err := auth.PasswordVerifier(username, password, size)
			if err != nil {
				return err
			}
			saltB64, verifierHex := auth.FormatCredential(auth.Credential{
				Username: username,
				Salt:     salt,
				Verifier: verifier,
			})

			out, err := yaml.Marshal(struct {
				Credentials []config.CredentialEntry `yaml:"credentials"`
			}{
				Credentials: []config.CredentialEntry{{
					Username: username,
					Salt:     saltB64,
					Verifier: verifierHex,
				}},
			})
			if err != nil {
				return fmt.Errorf("failed to encode credential: %w", err)
			}

			a.logger.Debug("verifier generated", map[string]any{"username": username, "key_size": size})
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (required)")
	cmd.Flags().IntVar(&keySize, "key-size", 0, "group size in bits (defaults to srp.key_size)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
