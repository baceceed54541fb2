package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/kabili207/microapp-go/core/checksum"
	"github.com/kabili207/microapp-go/core/chunk"
	"github.com/kabili207/microapp-go/core/header"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// report is the result of inspecting an image file.
type report struct {
	File     string `json:"file" yaml:"file"`
	Variant  string `json:"variant" yaml:"variant"`
	Checksum string `json:"checksum" yaml:"checksum"`
	FileSize int    `json:"fileSize" yaml:"fileSize"`

	Header struct {
		Start           uint32 `json:"start" yaml:"start"`
		SDKVersion      string `json:"sdkVersion" yaml:"sdkVersion"`
		Size            uint16 `json:"size" yaml:"size"`
		Checksum        uint16 `json:"checksum" yaml:"checksum"`
		ChecksumHeader  uint16 `json:"checksumHeader" yaml:"checksumHeader"`
		AppBuildVersion uint32 `json:"appBuildVersion" yaml:"appBuildVersion"`
		ReservedData    bool   `json:"reservedData" yaml:"reservedData"`
	} `json:"header" yaml:"header"`

	Validation struct {
		SizeOK                 bool   `json:"sizeOK" yaml:"sizeOK"`
		PayloadOK              bool   `json:"payloadOK" yaml:"payloadOK"`
		HeaderOK               bool   `json:"headerOK" yaml:"headerOK"`
		ComputedChecksum       uint16 `json:"computedChecksum" yaml:"computedChecksum"`
		ComputedHeaderChecksum uint16 `json:"computedHeaderChecksum" yaml:"computedHeaderChecksum"`
	} `json:"validation" yaml:"validation"`

	Chunks struct {
		Size      int         `json:"size" yaml:"size"`
		Algorithm string      `json:"algorithm" yaml:"algorithm"`
		Sums      []chunk.Sum `json:"sums" yaml:"sums"`
		Whole     uint16      `json:"whole" yaml:"whole"`
	} `json:"chunks" yaml:"chunks"`

	// Manifest is set when the header was compared with a manifest file.
	Manifest *manifestCheck `json:"manifest,omitempty" yaml:"manifest,omitempty"`
}

type manifestCheck struct {
	File    string `json:"file" yaml:"file"`
	Matches bool   `json:"matches" yaml:"matches"`
}

// OK reports whether every check in the report passed.
func (r *report) OK() bool {
	ok := r.Validation.SizeOK && r.Validation.PayloadOK && r.Validation.HeaderOK
	if r.Manifest != nil {
		ok = ok && r.Manifest.Matches
	}
	return ok
}

func newInspectCmd(a *app) *cobra.Command {
	var (
		format        string
		chunkSize     int
		chunkChecksum string
		manifest      string
	)

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode an image header and check its checksums",
		Long: `inspect decodes the header of a microapp image, checks the declared size and
both checksums, and lists per-chunk checksums as the device would see them
during an upload. Chunk checksums are diagnostic only.

The command fails when any check fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.cfg.Codec()
			if err != nil {
				return err
			}
			alg, err := checksum.ParseAlgorithm(chunkChecksum)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			r, err := inspectImage(c, alg, args[0], data, chunkSize)
			if err != nil {
				return err
			}
			if manifest != "" {
				if err := compareManifest(r, c, data, manifest); err != nil {
					return err
				}
			}

			if err := writeReport(a.out, format, r); err != nil {
				return err
			}
			if !r.OK() {
				return fmt.Errorf("%s: image failed inspection", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 40, "chunk size for per-chunk checksums")
	cmd.Flags().StringVar(&chunkChecksum, "chunk-checksum", checksum.AlgorithmFletcher32.String(), "checksum engine for chunks")
	cmd.Flags().StringVar(&manifest, "manifest", "", "compare the header with this manifest file")
	return cmd
}

func inspectImage(c *header.Codec, alg checksum.Algorithm, name string, data []byte, chunkSize int) (*report, error) {
	img, err := header.ParseImage(c, data, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	fn, err := alg.Func()
	if err != nil {
		return nil, err
	}
	chunks, err := chunk.Split(img.Payload, chunkSize)
	if err != nil {
		return nil, err
	}

	r := &report{
		File:     name,
		Variant:  c.Variant().Name,
		Checksum: c.Algorithm().String(),
		FileSize: len(data),
	}
	h := img.Header
	r.Header.Start = h.Start
	r.Header.SDKVersion = fmt.Sprintf("%d.%d", h.SDKVersionMajor, h.SDKVersionMinor)
	r.Header.Size = h.Size
	r.Header.Checksum = h.Checksum
	r.Header.ChecksumHeader = h.ChecksumHeader
	r.Header.AppBuildVersion = h.AppBuildVersion
	r.Header.ReservedData = h.HasReservedData()

	v := img.Validate()
	r.Validation.SizeOK = img.SizeOK()
	r.Validation.PayloadOK = v.PayloadOK
	r.Validation.HeaderOK = v.HeaderOK
	r.Validation.ComputedChecksum = v.ComputedChecksum
	r.Validation.ComputedHeaderChecksum = v.ComputedHeaderChecksum

	r.Chunks.Size = chunkSize
	r.Chunks.Algorithm = alg.String()
	r.Chunks.Sums = chunk.Checksums(chunks, fn)
	r.Chunks.Whole = chunk.Whole(img.Payload, fn)
	return r, nil
}

func compareManifest(r *report, c *header.Codec, data []byte, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	values, err := header.ParseManifest(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	want, err := header.HeaderFromManifest(c.Variant(), values)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	got, _, err := c.Decode(data)
	if err != nil {
		return err
	}
	// The manifest carries no SDK version.
	want.SDKVersionMajor = got.SDKVersionMajor
	want.SDKVersionMinor = got.SDKVersionMinor

	r.Manifest = &manifestCheck{File: path, Matches: got.Equal(c.Variant(), want)}
	return nil
}

func writeReport(w io.Writer, format string, r *report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		return writeText(w, r)
	default:
		return fmt.Errorf("unknown format %q: want text, json or yaml", format)
	}
}

func writeText(w io.Writer, r *report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "File:\t%s (%d bytes)\n", r.File, r.FileSize)
	fmt.Fprintf(tw, "Layout:\t%s, %s\n", r.Variant, r.Checksum)
	fmt.Fprintf(tw, "Start:\t%d\n", r.Header.Start)
	fmt.Fprintf(tw, "SDK version:\t%s\n", r.Header.SDKVersion)
	fmt.Fprintf(tw, "Size:\t%d\t%s\n", r.Header.Size, okString(r.Validation.SizeOK))
	fmt.Fprintf(tw, "Checksum:\t0x%04X\t%s (computed 0x%04X)\n",
		r.Header.Checksum, okString(r.Validation.PayloadOK), r.Validation.ComputedChecksum)
	fmt.Fprintf(tw, "Header checksum:\t0x%04X\t%s (computed 0x%04X)\n",
		r.Header.ChecksumHeader, okString(r.Validation.HeaderOK), r.Validation.ComputedHeaderChecksum)
	fmt.Fprintf(tw, "Build version:\t%d\n", r.Header.AppBuildVersion)
	if r.Header.ReservedData {
		fmt.Fprintf(tw, "Reserved:\tnonzero\n")
	}
	if r.Manifest != nil {
		fmt.Fprintf(tw, "Manifest:\t%s\t%s\n", r.Manifest.File, okString(r.Manifest.Matches))
	}
	fmt.Fprintf(tw, "\nChunks:\t%d x %d bytes, %s\n", len(r.Chunks.Sums), r.Chunks.Size, r.Chunks.Algorithm)
	for _, s := range r.Chunks.Sums {
		fmt.Fprintf(tw, "  %d\t0x%04X\n", s.Index, s.Value)
	}
	fmt.Fprintf(tw, "Whole payload:\t0x%04X\n", r.Chunks.Whole)
	return tw.Flush()
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "MISMATCH"
}
