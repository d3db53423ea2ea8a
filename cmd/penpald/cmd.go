package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"PenPal/internal/config"
	"PenPal/pkg/plugin"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "penpald",
		Short:         "penpald loads PenPal plugins and serves the registry API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.Path(), "configuration file (env "+config.EnvPath+")")

	root.AddCommand(newCheckCommand(&configPath), newManifestsCommand(&configPath))
	return root
}

// newCheckCommand 执行一次加载流程并打印结果，不启动 API 服务。
func newCheckCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one plugin load pass and report the loaded set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			d, err := newDaemon(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.close()

			loadErr := d.load(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tLOADED\tSTARTUP")
			for _, rec := range d.manager.Registered() {
				lp, ok := d.manager.LoadedPlugin(rec.Key)
				fmt.Fprintf(w, "%s\t%t\t%t\n", rec.Key, ok && lp.Loaded, ok && lp.HasStartupHook())
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return loadErr
		},
	}
}

// newManifestsCommand 列出插件目录中发现的清单文件。
func newManifestsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "manifests [dir]",
		Short: "List plugin manifests found under the plugin directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			} else {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				dir = cfg.Plugins.PluginDir
			}
			paths, err := plugin.FindManifests(dir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tDEPENDS ON\tPATH")
			for _, path := range paths {
				m, err := plugin.LoadManifest(path)
				if err != nil {
					fmt.Fprintf(w, "!\t%v\t%s\n", err, path)
					continue
				}
				fmt.Fprintf(w, "%s\t%v\t%s\n", m.Key(), m.DependsOn, path)
			}
			return w.Flush()
		},
	}
}
