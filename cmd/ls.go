package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/ariasync/internal/core"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/utils"
)

var lsCmd = &cobra.Command{
	Use:     "ls [pool]",
	Aliases: []string{"l"},
	Short:   "List tasks grouped by pool and category",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		asJSON, _ := cmd.Flags().GetBool("json")
		withDustbin, _ := cmd.Flags().GetBool("all")

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
			if refresh {
				refreshPools(ctx, a, pools)
				// connection state changed
				if pools, err = reloadPools(ctx, a.svc, pools); err != nil {
					return err
				}
			}

			listing, err := collectListing(ctx, a.svc, pools, withDustbin)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			}
			printListing(cmd.OutOrStdout(), listing)
			return nil
		})
	},
}

// poolListing is one pool with its categories in display order.
type poolListing struct {
	Pool       model.PoolInfo    `json:"pool"`
	Categories []categoryListing `json:"categories"`
}

type categoryListing struct {
	Category model.CategoryInfo `json:"category"`
	Tasks    []model.TaskInfo   `json:"tasks"`
}

// refreshPools reconciles and polls every pool so the listing shows daemon progress.
func refreshPools(ctx context.Context, a *app, pools []model.PoolInfo) {
	for _, p := range pools {
		if err := a.svc.Reconcile(ctx, p.ID); err != nil {
			a.log.WithField("pool_id", p.ID).WithError(err).Warn("Pool not reachable")
			continue
		}
		if err := a.svc.PollPool(ctx, p.ID); err != nil {
			a.log.WithField("pool_id", p.ID).WithError(err).Warn("Poll failed")
		}
	}
}

func reloadPools(ctx context.Context, svc core.SyncService, pools []model.PoolInfo) ([]model.PoolInfo, error) {
	all, err := svc.Pools(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(pools))
	for _, p := range pools {
		want[p.ID] = true
	}
	var out []model.PoolInfo
	for _, p := range all {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func collectListing(ctx context.Context, svc core.SyncService, pools []model.PoolInfo, withDustbin bool) ([]poolListing, error) {
	out := make([]poolListing, 0, len(pools))
	for _, p := range pools {
		cats, err := svc.Categories(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		pl := poolListing{Pool: redacted(p)}
		for _, c := range cats {
			if c.Kind == model.CategoryDustbin && !withDustbin {
				continue
			}
			tasks, err := svc.Tasks(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			pl.Categories = append(pl.Categories, categoryListing{Category: c, Tasks: tasks})
		}
		out = append(out, pl)
	}
	return out, nil
}

// redacted drops the daemon credentials from p.
func redacted(p model.PoolInfo) model.PoolInfo {
	if p.Secret != "" {
		p.Secret = "***"
	}
	if p.Password != "" {
		p.Password = "***"
	}
	return p
}

func printListing(w io.Writer, listing []poolListing) {
	if len(listing) == 0 {
		fmt.Fprintln(w, "No pools configured.")
		return
	}
	header := fmt.Sprintf("  %-10s %-32s %-10s %5s  %-22s %-12s", "ID", "NAME", "STATUS", "DONE", "SIZE", "SPEED")
	for i, pl := range listing {
		if i > 0 {
			fmt.Fprintln(w)
		}
		p := pl.Pool
		fmt.Fprintf(w, "%s %s %s\n",
			poolHeaderStyle.Render(p.Name),
			dimStyle.Render(fmt.Sprintf("%s:%d", p.Host, p.Port)),
			stateStyle(p.State).Render(p.State.String()))
		for _, cl := range pl.Categories {
			fmt.Fprintln(w, categoryHeaderStyle.Render(fmt.Sprintf("%s (%d)", cl.Category.Name, len(cl.Tasks))))
			if len(cl.Tasks) == 0 {
				continue
			}
			fmt.Fprintln(w, columnHeaderStyle.Render(header))
			for _, t := range cl.Tasks {
				fmt.Fprintln(w, taskRow(t))
				if t.LastError != "" {
					fmt.Fprintln(w, "  "+errorTextStyle.Render("└ "+t.LastError))
				}
			}
		}
	}
}

func taskRow(t model.TaskInfo) string {
	return fmt.Sprintf("  %-10s %-32s %s %4d%%  %-22s %-12s",
		shortID(t.ID),
		truncate(t.Name, 32),
		statusStyle(t.Status).Width(10).Render(string(t.Status)),
		t.Percent,
		progressText(t.CompletedLength, t.TotalLength),
		utils.FormatSpeed(t.DownloadSpeed))
}

func progressText(completed, total int64) string {
	if total <= 0 {
		return utils.ConvertBytesToHumanReadable(completed)
	}
	return utils.ConvertBytesToHumanReadable(completed) + " / " + utils.ConvertBytesToHumanReadable(total)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("refresh", true, "Reconcile and poll the daemons before listing")
	lsCmd.Flags().Bool("json", false, "Output in JSON format")
	lsCmd.Flags().BoolP("all", "a", false, "Include Dustbin collections")
}
