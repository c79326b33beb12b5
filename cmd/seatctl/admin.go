package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/MacJediWizard/seatbroker/internal/crypto"
)

const adminKeyPrefix = "sbk_"

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Generate server credentials",
	}

	cmd.AddCommand(
		newAdminHashKeyCmd(),
		newAdminEncryptionKeyCmd(),
	)

	return cmd
}

func newAdminHashKeyCmd() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Create an admin API key and its bcrypt hash",
		Long: `Create a random admin API key and print it with its bcrypt hash.
Set ADMIN_API_KEY_HASH on the server to the hash and give the key to
operators. With --stdin an existing key is read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if fromStdin {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				key = line
			} else {
				generated, err := generateAdminKey()
				if err != nil {
					return err
				}
				key = generated
			}

			if len(key) < 16 {
				return fmt.Errorf("admin key must be at least 16 characters")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash admin key: %w", err)
			}

			out := cmd.OutOrStdout()
			if !fromStdin {
				fmt.Fprintf(out, "Admin key:  %s\n", key)
			}
			fmt.Fprintf(out, "Key hash:   %s\n", hash)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "hash a key read from standard input")

	return cmd
}

func newAdminEncryptionKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encryption-key",
		Short: "Generate a master key for credential encryption",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateMasterKey()
			if err != nil {
				return fmt.Errorf("generate master key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.MasterKeyToHex(key))
			return nil
		},
	}
}

func generateAdminKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate admin key: %w", err)
	}
	return adminKeyPrefix + hex.EncodeToString(b), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
