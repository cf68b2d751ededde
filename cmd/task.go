package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// taskAction builds one of the commands that act on existing tasks by id prefix.
func taskAction(use, short, verb string, aliases []string, action func(a *app) func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <ID>...",
		Aliases: aliases,
		Short:   short,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.syncPools(ctx)
				return forEachTask(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), a, args, verb, action(a))
			})
		},
	}
}

var pauseCmd = taskAction("pause", "Pause downloads", "Paused", nil, func(a *app) func(context.Context, string) error {
	return a.svc.PauseTask
})

var resumeCmd = taskAction("resume", "Resume paused, failed or recycled downloads", "Resumed", nil, func(a *app) func(context.Context, string) error {
	return a.svc.ResumeTask
})

var rmCmd = taskAction("rm", "Remove downloads from the daemon and the local list", "Removed", []string{"kill"}, func(a *app) func(context.Context, string) error {
	return a.svc.RemoveTask
})

var recycleCmd = taskAction("recycle", "Pause downloads and move them to their pool's Dustbin", "Recycled", []string{"trash"}, func(a *app) func(context.Context, string) error {
	return a.svc.RecycleTask
})

var showCmd = &cobra.Command{
	Use:   "show <ID>",
	Short: "Show one task in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := resolveTaskID(ctx, a.svc, args[0])
			if err != nil {
				return err
			}
			t, err := a.svc.Task(ctx, id)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ID:        %s\n", t.ID)
			fmt.Fprintf(w, "Name:      %s\n", t.Name)
			fmt.Fprintf(w, "Kind:      %s\n", t.Kind)
			fmt.Fprintf(w, "Status:    %s\n", t.Status)
			fmt.Fprintf(w, "Handle:    %s\n", orDash(t.Handle))
			fmt.Fprintf(w, "Category:  %s\n", t.CategoryID)
			if t.MetadataPath != "" {
				fmt.Fprintf(w, "Metadata:  %s\n", t.MetadataPath)
			}
			for _, u := range t.URIs {
				fmt.Fprintf(w, "URI:       %s\n", u)
			}
			fmt.Fprintf(w, "Progress:  %d%% (%s)\n", t.Percent, progressText(t.CompletedLength, t.TotalLength))
			for k, v := range t.Options.ToMap() {
				fmt.Fprintf(w, "Option:    %s=%s\n", k, v)
			}
			if t.LastError != "" {
				fmt.Fprintf(w, "Error:     %s\n", t.LastError)
			}
			return nil
		})
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(pauseCmd, resumeCmd, rmCmd, recycleCmd, showCmd)
}
