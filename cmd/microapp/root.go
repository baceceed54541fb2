package main

import (
	"io"
	"log/slog"

	"github.com/kabili207/microapp-go/internal/config"
	"github.com/kabili207/microapp-go/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries state shared by all subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
	closer  io.Closer
	out     io.Writer
	errOut  io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{
		v:      viper.New(),
		out:    out,
		errOut: errOut,
	}

	root := &cobra.Command{
		Use:   "microapp",
		Short: "Build, inspect, sign and upload microapp binaries",
		Long: `microapp prepares microapp images (header fields and checksums),
inspects them, signs them and uploads them to a device through a bridge
attached over serial or reachable over MQTT.

Settings are read from tool_config.{json,yaml} in the working directory or
./config, from MICROAPP_* environment variables and from flags.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is tool_config.* in . or ./config)")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("log-file", "", "also write logs to this rotated file")
	pf.String("variant", "", "header layout: v1, v2 or v3")
	pf.String("checksum", "", "checksum engine: crc16-ccitt or fletcher32")

	a.bind(pf.Lookup("log-level"), "log.level")
	a.bind(pf.Lookup("log-format"), "log.format")
	a.bind(pf.Lookup("log-file"), "log.file")
	a.bind(pf.Lookup("variant"), "header.variant")
	a.bind(pf.Lookup("checksum"), "header.checksum")

	root.AddCommand(
		newMakeCmd(a),
		newInspectCmd(a),
		newUploadCmd(a),
		newSignCmd(a),
		newKeygenCmd(a),
		newVerifyCmd(a),
		newPortsCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	// Several subcommands map a flag to the same key, so only the running
	// command's flags are bound.
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[configKeyAnnotation]; len(keys) == 1 {
			_ = a.v.BindPFlag(keys[0], f)
		}
	})

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, closer, err := logging.New(a.errOut, logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	a.log = logger
	a.closer = closer

	if cfg.File != "" {
		a.log.Debug("loaded config", "file", cfg.File)
	}
	a.log.Debug("running", "command", cmd.CommandPath(), "version", version)
	return nil
}

const configKeyAnnotation = "microapp_config_key"

// bind ties a flag to a config key. A flag only overrides the file and
// environment when it was set on the command line.
func (a *app) bind(f *pflag.Flag, key string) {
	if f.Annotations == nil {
		f.Annotations = map[string][]string{}
	}
	f.Annotations[configKeyAnnotation] = []string{key}
}
