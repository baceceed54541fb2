package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kabili207/microapp-go/core/header"
	"github.com/spf13/cobra"
)

func newMakeCmd(a *app) *cobra.Command {
	var (
		input        string
		imageOut     string
		buildVersion uint32
		sdkVersion   string
	)

	cmd := &cobra.Command{
		Use:   "make [-i input] <manifest>",
		Short: "Compute header fields and write them as a linker manifest",
		Long: `make reads a linked microapp binary whose first bytes are a placeholder
header, fills in the start offset, size and both checksums, and writes the
header values as "KEY = value;" lines for the linker to pick up.

Without an input file the values are those of an all-zero header.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.cfg.Codec()
			if err != nil {
				return err
			}

			var img *header.Image
			if input == "" {
				img = header.Synthesize(c)
				a.log.Info("no input, writing placeholder values", "variant", c.Variant().Name)
			} else {
				data, err := os.ReadFile(input)
				if err != nil {
					return err
				}
				var opts header.PrepareOptions
				if cmd.Flags().Changed("build-version") {
					opts.BuildVersion = &buildVersion
				}
				if sdkVersion != "" {
					v, err := parseSDKVersion(sdkVersion)
					if err != nil {
						return err
					}
					opts.SDKVersion = &v
				}
				if img, err = header.Prepare(c, data, opts); err != nil {
					return fmt.Errorf("%s: %w", input, err)
				}
				a.log.Info("prepared header", "file", input, "header", img.Header.String())
			}

			if imageOut != "" {
				packed, err := img.Packed()
				if err != nil {
					return fmt.Errorf("--image: %w", err)
				}
				if err := os.WriteFile(imageOut, packed, 0o644); err != nil {
					return err
				}
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := header.WriteManifest(f, c.Variant(), img.Header); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "linked binary to process")
	cmd.Flags().StringVar(&imageOut, "image", "", "also write the image with the computed header")
	cmd.Flags().Uint32Var(&buildVersion, "build-version", 0, "app build version to store")
	cmd.Flags().StringVar(&sdkVersion, "sdk-version", "", "SDK version to store, as major.minor")
	return cmd
}

// parseSDKVersion parses "major.minor".
func parseSDKVersion(s string) ([2]uint8, error) {
	var v [2]uint8
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return v, fmt.Errorf("invalid SDK version %q: want major.minor", s)
	}
	for i, part := range []string{major, minor} {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return v, fmt.Errorf("invalid SDK version %q: %w", s, err)
		}
		v[i] = uint8(n)
	}
	return v, nil
}
