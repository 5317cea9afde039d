package cmd

import (
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/kbagent/pkg/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, config file, environment and
flags are applied. Tokens and API keys are masked.

Examples:
  kbagent config show
  kbagent config show --defaults --output yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configShowDefaults bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)

	configShowCmd.Flags().BoolVar(&configShowDefaults, "defaults", false, "Print built-in defaults only")
}

// secretKeys are masked in config output, as dotted paths.
var secretKeys = []string{"kbase.token", "llm.openai_key", "llm.cborg_key"}

func runConfigShow(cmd *cobra.Command, args []string) (err error) {
	var settings map[string]any
	if configShowDefaults {
		settings = viper.AllSettings()
	} else {
		settings = map[string]any{}
		if err := mapstructure.Decode(currentConfig(), &settings); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to render configuration", err)
		}
	}
	settings = normalizeSettings(settings)
	for _, key := range secretKeys {
		maskSetting(settings, key)
	}

	w, err := newRecordWriter(cmd)
	if err != nil {
		return err
	}
	defer closeWriter(w, &err)
	return writeRecords(cmd, w, output.TypeConfig, []map[string]any{settings})
}

// normalizeSettings renders durations as strings so output matches the
// config file syntax.
func normalizeSettings(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = normalizeSettings(tv)
		case time.Duration:
			out[k] = tv.String()
		default:
			out[k] = v
		}
	}
	return out
}

func maskSetting(m map[string]any, dotted string) {
	section, key, ok := strings.Cut(dotted, ".")
	if !ok {
		return
	}
	sub, ok := m[section].(map[string]any)
	if !ok {
		return
	}
	if s, ok := sub[key].(string); ok && s != "" {
		sub[key] = maskSecret(s)
	}
}

// maskSecret masks all but the last 4 characters of a secret.
func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
