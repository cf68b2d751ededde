package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/ariasync/internal/model"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage aria2 daemons",
}

var poolAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an aria2 daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var info model.PoolInfo
		info.Name, _ = cmd.Flags().GetString("name")
		info.Host, _ = cmd.Flags().GetString("host")
		info.Port, _ = cmd.Flags().GetInt("port")
		info.Secret, _ = cmd.Flags().GetString("secret")
		info.User, _ = cmd.Flags().GetString("user")
		info.Password, _ = cmd.Flags().GetString("password")
		check, _ := cmd.Flags().GetBool("check")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.svc.AddPool(ctx, info)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added pool %s [%s] at %s:%d\n", p.Name, shortID(p.ID), p.Host, p.Port)
			if check {
				if err := a.svc.Reconcile(ctx, p.ID); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: daemon not reachable: %v\n", err)
					return nil
				}
				info, err := a.svc.DaemonVersion(ctx, p.ID)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: version query failed: %v\n", err)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon reachable: %s\n", info.Summary())
				if !info.Supported {
					fmt.Fprintln(cmd.ErrOrStderr(), "Warning: this daemon is too old to follow restarts reliably")
				}
			}
			return nil
		})
	},
}

var poolRmCmd = &cobra.Command{
	Use:     "rm <pool>",
	Aliases: []string{"remove"},
	Short:   "Forget a daemon with all its categories and tasks",
	Long:    "Forget a daemon with all its categories and tasks. Jobs on the daemon are left alone.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := resolvePool(ctx, a.svc, args[0])
			if err != nil {
				return err
			}
			if err := a.svc.RemovePool(ctx, p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed pool %s [%s]\n", p.Name, shortID(p.ID))
			return nil
		})
	},
}

var poolLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List daemons and their connection state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.syncPools(ctx)
			pools, err := a.svc.Pools(ctx)
			if err != nil {
				return err
			}
			if len(pools) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pools configured.")
				return nil
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-10s %-16s %-24s %-13s %s\n", "ID", "NAME", "ADDRESS", "STATE", "SESSION")
			for _, p := range pools {
				fmt.Fprintf(w, "%-10s %-16s %-24s %s %s\n",
					shortID(p.ID), p.Name, fmt.Sprintf("%s:%d", p.Host, p.Port), stateStyle(p.State).Width(13).Render(p.State.String()), orDash(p.SessionID))
			}
			return nil
		})
	},
}

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	Short:   "Manage categories",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <pool> <name>",
	Short: "Create a category with its own directory and default options",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}
		// the category directory lives on the category, not in its options
		dir := opts.Dir
		opts.Dir = ""
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := resolvePool(ctx, a.svc, args[0])
			if err != nil {
				return err
			}
			c, err := a.svc.AddCategory(ctx, p.ID, args[1], dir, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added category %s/%s [%s]\n", p.Name, c.Name, shortID(c.ID))
			return nil
		})
	},
}

var categoryLsCmd = &cobra.Command{
	Use:     "ls [pool]",
	Aliases: []string{"list"},
	Short:   "List categories",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			pools, err := a.svc.Pools(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				p, err := resolvePool(ctx, a.svc, args[0])
				if err != nil {
					return err
				}
				pools = []model.PoolInfo{p}
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-10s %-24s %-8s %-6s %s\n", "ID", "NAME", "KIND", "TASKS", "DIR")
			for _, p := range pools {
				cats, err := a.svc.Categories(ctx, p.ID)
				if err != nil {
					return err
				}
				for _, c := range cats {
					fmt.Fprintf(w, "%-10s %-24s %-8s %-6d %s\n", shortID(c.ID), p.Name+"/"+c.Name, c.Kind, len(c.TaskIDs), orDash(c.Directory))
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(poolCmd, categoryCmd)
	poolCmd.AddCommand(poolAddCmd, poolRmCmd, poolLsCmd)
	categoryCmd.AddCommand(categoryAddCmd, categoryLsCmd)

	poolAddCmd.Flags().String("name", "", "Display name (default: host)")
	poolAddCmd.Flags().String("host", "127.0.0.1", "Daemon host")
	poolAddCmd.Flags().Int("port", 6800, "Daemon RPC port")
	poolAddCmd.Flags().String("secret", "", "Daemon RPC secret (--rpc-secret)")
	poolAddCmd.Flags().String("user", "", "HTTP basic auth user")
	poolAddCmd.Flags().String("password", "", "HTTP basic auth password")
	poolAddCmd.Flags().Bool("check", true, "Contact the daemon after adding it")

	addOptionFlags(categoryAddCmd)
}
