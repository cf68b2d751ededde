package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/ariasync/internal/config"
)

func addOptionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("dir", "d", "", "Download directory on the daemon host")
	cmd.Flags().Int("split", 0, "Connections per download")
	cmd.Flags().Int("max-connections", 0, "Maximum connections per server (1-16)")
	cmd.Flags().String("limit", "", "Maximum download speed (e.g. 512K, 2M)")
	cmd.Flags().StringToString("option", nil, "Raw daemon option name=value (repeatable)")
}

// optionsFromFlags collects the option flags; named flags win over --option.
func optionsFromFlags(cmd *cobra.Command) (config.TaskOptions, error) {
	raw, _ := cmd.Flags().GetStringToString("option")
	base, err := config.OptionsFromMap(raw)
	if err != nil {
		return config.TaskOptions{}, err
	}
	var named config.TaskOptions
	named.Dir, _ = cmd.Flags().GetString("dir")
	named.Split, _ = cmd.Flags().GetInt("split")
	named.MaxConnectionPerServer, _ = cmd.Flags().GetInt("max-connections")
	named.MaxDownloadLimit, _ = cmd.Flags().GetString("limit")

	opts := config.Merge(base, named)
	if err := opts.Validate(); err != nil {
		return config.TaskOptions{}, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}
