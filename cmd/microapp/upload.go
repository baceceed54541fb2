package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/kabili207/microapp-go/core/header"
	"github.com/kabili207/microapp-go/core/sign"
	"github.com/kabili207/microapp-go/device/bridge"
	"github.com/kabili207/microapp-go/device/microapp"
	"github.com/kabili207/microapp-go/internal/config"
	"github.com/kabili207/microapp-go/transport"
	"github.com/kabili207/microapp-go/transport/mqtt"
	"github.com/kabili207/microapp-go/transport/serial"
	"github.com/spf13/cobra"
)

// simAddress is used with the simulator when no address is configured.
const simAddress = "00:00:00:00:00:01"

func newUploadCmd(a *app) *cobra.Command {
	var (
		actions   string
		signature string
	)

	cmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a microapp to a device through a bridge",
		Long: `upload connects to the device at --address through a bridge, checks that the
image fits, clears the slot, uploads the image in chunks, then asks the
device to validate and enable it.

--action selects a subset: request, upload, validate, enable, disable, or
add (request, upload, validate and enable). Actions are joined with commas
or '+'. The image argument is only needed when uploading.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			act, err := microapp.ParseAction(actions)
			if err != nil {
				return err
			}

			var image []byte
			if len(args) == 1 {
				if image, err = os.ReadFile(args[0]); err != nil {
					return err
				}
			}
			if act.NeedsImage() && image == nil {
				return fmt.Errorf("action %s needs an image file", act)
			}
			if signature != "" {
				if err := checkSignature(cfg.Signing.PublicKey, signature, image); err != nil {
					return err
				}
				a.log.Info("signature verified", "file", signature)
			}

			c, err := cfg.Codec()
			if err != nil {
				return err
			}
			policy, err := cfg.ChecksumPolicy()
			if err != nil {
				return err
			}

			address := cfg.Address
			if address == "" && cfg.Transport == config.TransportSimulator {
				address = simAddress
			}
			if address == "" {
				return errors.New("device address is required (--address)")
			}

			tr, err := newTransport(a, c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client := bridge.NewClient(tr, bridge.ClientConfig{
				Timeout: cfg.Upload.Timeout,
				Retries: cfg.Upload.Retries,
				Logger:  a.log,
			})
			if err := client.Start(ctx); err != nil {
				return err
			}
			defer client.Stop()

			up := microapp.NewUploader(client,
				microapp.WithLogger(a.log),
				microapp.WithMaxChunkSize(cfg.Upload.MaxChunkSize),
				microapp.WithAppIndex(uint8(cfg.Upload.AppIndex)),
				microapp.WithCodec(c),
				microapp.WithChecksumPolicy(policy),
				microapp.WithProgressCallback(progressPrinter(a)),
			)

			start := time.Now()
			s, err := up.Run(ctx, address, act, image)
			if s != nil {
				for _, w := range s.Warnings {
					a.log.Warn("upload warning", "error", w)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s done: slot %d, %s (%s)\n",
				act, s.Index, strings.Join(s.Completed, ", "), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&actions, "action", "add", "actions to run")
	f.StringVar(&signature, "signature", "", "verify this detached signature before uploading")
	f.String("transport", "", "bridge transport: serial, mqtt or sim")
	f.StringP("address", "a", "", "device MAC address")
	f.StringP("port", "p", "", "serial port of the bridge")
	f.Int("baud", 0, "serial baud rate")
	f.String("broker", "", "MQTT broker URL")
	f.String("bridge-id", "", "MQTT bridge identifier")
	f.IntP("index", "i", 0, "app slot index")
	f.Int("max-chunk-size", 0, "largest chunk to send")
	f.Duration("timeout", 0, "per-request response timeout")
	f.Int("retries", 0, "resends per request after a timeout")
	f.String("checksum-policy", "", "local checksum mismatch: abort or warn")
	f.String("public-key", "", "hex Ed25519 public key for --signature")

	a.bind(f.Lookup("transport"), "transport")
	a.bind(f.Lookup("address"), "address")
	a.bind(f.Lookup("port"), "serial.port")
	a.bind(f.Lookup("baud"), "serial.baud")
	a.bind(f.Lookup("broker"), "mqtt.broker")
	a.bind(f.Lookup("bridge-id"), "mqtt.bridge_id")
	a.bind(f.Lookup("index"), "upload.app_index")
	a.bind(f.Lookup("max-chunk-size"), "upload.max_chunk_size")
	a.bind(f.Lookup("timeout"), "upload.timeout")
	a.bind(f.Lookup("retries"), "upload.retries")
	a.bind(f.Lookup("checksum-policy"), "upload.checksum_policy")
	a.bind(f.Lookup("public-key"), "signing.public_key")
	return cmd
}

// newTransport builds the transport selected by the configuration.
func newTransport(a *app, c *header.Codec) (transport.Transport, error) {
	cfg := a.cfg
	switch cfg.Transport {
	case config.TransportSerial:
		if cfg.Serial.Port == "" {
			return nil, errors.New("serial port is required (--port)")
		}
		return serial.New(serial.Config{
			Port:     cfg.Serial.Port,
			BaudRate: cfg.Serial.Baud,
			Logger:   a.log,
		}), nil
	case config.TransportMQTT:
		if cfg.MQTT.BridgeID == "" {
			return nil, errors.New("bridge id is required (--bridge-id)")
		}
		return mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			UseTLS:      cfg.MQTT.UseTLS,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			BridgeID:    cfg.MQTT.BridgeID,
			QoS:         1,
			Logger:      a.log,
		}), nil
	case config.TransportSimulator:
		simCodec := c
		if c.Variant().ManifestOnly {
			simCodec = nil
		}
		return bridge.NewSimulator(bridge.SimulatorConfig{
			Codec:  simCodec,
			Logger: a.log,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// checkSignature verifies the detached signature in sigFile over image.
func checkSignature(pubHex, sigFile string, image []byte) error {
	if pubHex == "" {
		return errors.New("a public key is required to check a signature (--public-key)")
	}
	pub, err := sign.ParsePublicKey(pubHex)
	if err != nil {
		return err
	}
	sig, err := readSignature(sigFile)
	if err != nil {
		return err
	}
	return sign.Verify(pub, image, sig)
}

// readSignature reads a hex signature file.
func readSignature(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sig, nil
}

// progressPrinter writes one line per step and a running percentage during
// the upload step.
func progressPrinter(a *app) microapp.ProgressCallback {
	return func(p microapp.Progress) {
		if p.Bytes {
			fmt.Fprintf(a.errOut, "\r%-12s %5.1f%% (%d/%d bytes)", p.Step, p.Percentage(), p.Current, p.Total)
			if p.Current == p.Total {
				fmt.Fprintln(a.errOut)
			}
			return
		}
		fmt.Fprintf(a.errOut, "[%d/%d] %s\n", p.Current+1, p.Total, p.Step)
	}
}
