package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/ariasync/internal/clipboard"
	"github.com/surge-downloader/ariasync/internal/core"
	"github.com/surge-downloader/ariasync/internal/metadata"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/source"
)

var addCmd = &cobra.Command{
	Use:     "add [uri|file]...",
	Aliases: []string{"get"},
	Short:   "Add downloads to a pool",
	Long: `Add one or more downloads. Each argument is either a URI (mirrors of the same
file may be joined with commas) or the path of a .torrent or .metalink file.

The task goes to --category, or to the Queuing collection of --pool. With a single
pool configured, --pool can be omitted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batchFile, _ := cmd.Flags().GetString("batch")
		fromClipboard, _ := cmd.Flags().GetBool("clipboard")

		items := append([]string(nil), args...)
		if batchFile != "" {
			fileURLs, err := readURLsFromFile(batchFile)
			if err != nil {
				return fmt.Errorf("reading batch file: %w", err)
			}
			items = append(items, fileURLs...)
		}
		if fromClipboard {
			uris, err := clipboard.ReadURIs()
			if err != nil {
				return fmt.Errorf("reading clipboard: %w", err)
			}
			items = append(items, uris...)
		}
		if len(items) == 0 {
			return cmd.Help()
		}

		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}
		poolRef, _ := cmd.Flags().GetString("pool")
		categoryRef, _ := cmd.Flags().GetString("category")
		paused, _ := cmd.Flags().GetBool("paused")
		name, _ := cmd.Flags().GetString("name")
		allowDuplicates, _ := cmd.Flags().GetBool("allow-duplicates")
		if name != "" && len(items) > 1 {
			return fmt.Errorf("--name needs exactly one download, got %d", len(items))
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			base := core.SubmitRequest{Name: name, Options: opts, Paused: paused}
			if categoryRef != "" {
				c, err := resolveCategory(ctx, a.svc, categoryRef)
				if err != nil {
					return err
				}
				base.CategoryID = c.ID
			} else {
				p, err := resolvePool(ctx, a.svc, poolRef)
				if err != nil {
					return err
				}
				base.PoolID = p.ID
			}
			a.syncPools(ctx)

			known := map[string]string{}
			if !allowDuplicates {
				k, err := knownURIs(ctx, a)
				if err != nil {
					return err
				}
				known = k
			}

			added := 0
			for _, item := range items {
				req, err := requestFor(base, item)
				if err == nil && len(req.URIs) > 0 {
					_, key := source.CanonicalKey(req.URIs[0])
					switch id, dup := known[key]; {
					case !dup || allowDuplicates:
						known[key] = ""
					case id == "":
						err = errors.New("listed twice")
					default:
						err = fmt.Errorf("already tracked as task %s (use --allow-duplicates)", shortID(id))
					}
				}
				if err == nil {
					var id string
					id, err = a.svc.SubmitTask(ctx, req)
					if err != nil && id != "" {
						err = fmt.Errorf("task %s saved but not submitted: %w", shortID(id), err)
					}
					if err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "Added %s [%s]\n", item, shortID(id))
						added++
						continue
					}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Error adding %s: %v\n", item, err)
			}
			if added > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully added %d downloads.\n", added)
			}
			if added < len(items) {
				return fmt.Errorf("%d of %d downloads failed", len(items)-added, len(items))
			}
			return nil
		})
	},
}

// knownURIs maps the canonical key of every tracked task's first URI to its id.
func knownURIs(ctx context.Context, a *app) (map[string]string, error) {
	tasks, err := allTasks(ctx, a.svc)
	if err != nil {
		return nil, err
	}
	known := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if len(t.URIs) > 0 {
			_, key := source.CanonicalKey(t.URIs[0])
			known[key] = t.ID
		}
	}
	return known, nil
}

// requestFor turns one argument into a request: an existing file is metadata, anything
// else a URI list.
func requestFor(base core.SubmitRequest, item string) (core.SubmitRequest, error) {
	req := base
	if fi, err := os.Stat(item); err == nil && !fi.IsDir() {
		kind, err := metadata.Detect(item)
		if err != nil {
			return req, err
		}
		req.Kind = kind
		req.MetadataPath = item
		return req, nil
	}
	req.Kind = model.KindNormal
	req.URIs = ParseURLArg(item)
	if len(req.URIs) == 0 {
		return req, fmt.Errorf("%q is neither a supported URI nor a metadata file", item)
	}
	return req, nil
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("batch", "b", "", "File containing URLs to download (one per line)")
	addCmd.Flags().Bool("clipboard", false, "Also add the URIs currently on the clipboard")
	addCmd.Flags().StringP("pool", "p", "", "Pool id, id prefix or name")
	addCmd.Flags().StringP("category", "c", "", "Category id, id prefix or pool/name")
	addCmd.Flags().Bool("paused", false, "Submit without starting the download")
	addCmd.Flags().StringP("name", "n", "", "Display name (single download only)")
	addCmd.Flags().Bool("allow-duplicates", false, "Add URIs that are already tracked")
	addOptionFlags(addCmd)
}
