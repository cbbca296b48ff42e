package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"live-quiz-service/internal/config"
)

const defaultConfigPath = "config/config.yaml"

// options are the command line overrides layered on top of the YAML config.
// Each flag can also be set through LIVEQUIZ_<FLAG> in the environment.
type options struct {
	configPath  string
	port        string
	publicURL   string
	redisAddr   string
	busDriver   string
	amqpURL     string
	contentURL  string
	postgresURL string
	instanceID  string
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	v := viper.New()
	v.SetEnvPrefix("LIVEQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "live-quiz",
		Short:         "Live multiplayer quiz sessions over WebSocket",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "path to YAML config (env: LIVEQUIZ_CONFIG)")
	flags.StringVar(&opts.port, "port", "", "port to listen on (env: LIVEQUIZ_PORT)")
	flags.StringVar(&opts.publicURL, "public-url", "", "externally visible base URL (env: LIVEQUIZ_PUBLIC_URL)")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "redis address for the session store (env: LIVEQUIZ_REDIS_ADDR)")
	flags.StringVar(&opts.busDriver, "bus-driver", "", "event bus: redis, amqp or memory (env: LIVEQUIZ_BUS_DRIVER)")
	flags.StringVar(&opts.amqpURL, "amqp-url", "", "AMQP broker URL (env: LIVEQUIZ_AMQP_URL)")
	flags.StringVar(&opts.contentURL, "content-url", "", "base URL of the quiz content service (env: LIVEQUIZ_CONTENT_URL)")
	flags.StringVar(&opts.postgresURL, "postgres-url", "", "postgres DSN for the quiz table (env: LIVEQUIZ_POSTGRES_URL)")
	flags.StringVar(&opts.instanceID, "instance-id", "", "name of this instance on the bus (env: LIVEQUIZ_INSTANCE_ID)")

	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(NewStartCmd(opts))
	cmd.AddCommand(NewMigrateCmd(opts))
	cmd.AddCommand(NewSeedCmd(opts))
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

// load reads the config file and applies flag and environment overrides. A
// missing file at the default path falls back to built-in defaults.
func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, fs.ErrNotExist) && o.configPath == defaultConfigPath {
		log.Printf("config: %s not found, using defaults", o.configPath)
		cfg, err = config.Load("")
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	override(&cfg.Server.Port, o.port)
	override(&cfg.Server.PublicURL, o.publicURL)
	override(&cfg.Redis.Addr, o.redisAddr)
	override(&cfg.Bus.Driver, o.busDriver)
	override(&cfg.Bus.AMQPURL, o.amqpURL)
	override(&cfg.Content.BaseURL, o.contentURL)
	override(&cfg.Postgres.URL, o.postgresURL)
	override(&cfg.Session.InstanceID, o.instanceID)
	if err := cfg.Resolve(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func override(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
