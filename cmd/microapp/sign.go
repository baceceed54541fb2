package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kabili207/microapp-go/core/header"
	"github.com/kabili207/microapp-go/core/sign"
	"github.com/spf13/cobra"
)

func newSignCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "sign <file>",
		Short: "Write a detached Ed25519 signature for an image",
		Long: `sign signs the BLAKE2b-256 digest of a complete image with the private key in
--key (or signing.private_key_file) and writes the signature as hex to
<file>.sig, or to --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := loadKeyPair(a.cfg.Signing.PrivateKeyFile)
			if err != nil {
				return err
			}
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			out := output
			if out == "" {
				out = args[0] + ".sig"
			}
			sig := sign.Sign(kp.PrivateKey, image)
			if err := os.WriteFile(out, []byte(hex.EncodeToString(sig)+"\n"), 0o644); err != nil {
				return err
			}
			a.log.Info("signed image", "file", args[0], "signature", out, "public_key", kp.HexPublicKey())
			fmt.Fprintln(a.out, out)
			return nil
		},
	}

	cmd.Flags().StringP("key", "k", "", "file holding the hex private key")
	cmd.Flags().StringVarP(&output, "output", "o", "", "signature file (default <file>.sig)")
	a.bind(cmd.Flags().Lookup("key"), "signing.private_key_file")
	return cmd
}

func newKeygenCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen <keyfile>",
		Short: "Generate an Ed25519 signing key",
		Long: `keygen writes a new private key seed as hex to <keyfile>, readable only by
the owner, and prints the matching public key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Clean(args[0])
			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}

			kp, err := sign.GenerateKeyPair()
			if err != nil {
				return err
			}
			f, err := os.OpenFile(path, flags, 0o600)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(f, kp.HexSeed()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, kp.HexPublicKey())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var signature string

	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check an image's signature and header checksums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := a.cfg.Codec()
			if err != nil {
				return err
			}

			var errs []error
			img, err := header.ParseImage(c, image, true)
			if err != nil {
				errs = append(errs, err)
			} else if err := img.Validate().Err(); err != nil {
				errs = append(errs, err)
			} else {
				fmt.Fprintf(a.out, "header: ok (%s)\n", img.Header)
			}

			sigFile := signature
			if sigFile == "" {
				sigFile = args[0] + ".sig"
			}
			if err := checkSignature(a.cfg.Signing.PublicKey, sigFile, image); err != nil {
				errs = append(errs, fmt.Errorf("signature: %w", err))
			} else {
				fmt.Fprintln(a.out, "signature: ok")
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVarP(&signature, "signature", "s", "", "signature file (default <file>.sig)")
	cmd.Flags().String("public-key", "", "hex Ed25519 public key")
	a.bind(cmd.Flags().Lookup("public-key"), "signing.public_key")
	return cmd
}

// loadKeyPair reads a hex private key file.
func loadKeyPair(path string) (*sign.KeyPair, error) {
	if path == "" {
		return nil, errors.New("a private key file is required (--key)")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	kp, err := sign.ParsePrivateKey(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return kp, nil
}
