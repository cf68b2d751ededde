package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/surge-downloader/ariasync/internal/core"
	"github.com/surge-downloader/ariasync/internal/model"
	"github.com/surge-downloader/ariasync/internal/source"
)

// readURLsFromFile reads URLs from a file, one per line
func readURLsFromFile(filepath string) ([]string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

// ParseURLArg splits "url,mirror1,mirror2" into the URI list of one task.
func ParseURLArg(arg string) []string {
	return source.SplitMirrors(arg)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolvePool finds a pool by id, id prefix or name. With an empty ref and exactly one
// pool configured, that pool is used.
func resolvePool(ctx context.Context, svc core.SyncService, ref string) (model.PoolInfo, error) {
	pools, err := svc.Pools(ctx)
	if err != nil {
		return model.PoolInfo{}, err
	}
	if ref == "" {
		switch len(pools) {
		case 0:
			return model.PoolInfo{}, fmt.Errorf("no pools configured; add one with 'ariasync pool add'")
		case 1:
			return pools[0], nil
		default:
			return model.PoolInfo{}, fmt.Errorf("%d pools configured; pick one with --pool", len(pools))
		}
	}
	var matches []model.PoolInfo
	for _, p := range pools {
		if p.ID == ref || p.Name == ref {
			return p, nil
		}
		if strings.HasPrefix(p.ID, ref) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return model.PoolInfo{}, fmt.Errorf("no pool matches %q", ref)
	case 1:
		return matches[0], nil
	}
	return model.PoolInfo{}, fmt.Errorf("ambiguous pool prefix '%s' matches %d pools", ref, len(matches))
}

// resolveCategory finds a category of any pool by id, id prefix or "pool/name".
func resolveCategory(ctx context.Context, svc core.SyncService, ref string) (model.CategoryInfo, error) {
	pools, err := svc.Pools(ctx)
	if err != nil {
		return model.CategoryInfo{}, err
	}
	var matches []model.CategoryInfo
	for _, p := range pools {
		cats, err := svc.Categories(ctx, p.ID)
		if err != nil {
			return model.CategoryInfo{}, err
		}
		for _, c := range cats {
			if c.ID == ref || p.Name+"/"+c.Name == ref {
				return c, nil
			}
			if strings.HasPrefix(c.ID, ref) {
				matches = append(matches, c)
			}
		}
	}
	switch len(matches) {
	case 0:
		return model.CategoryInfo{}, fmt.Errorf("no category matches %q", ref)
	case 1:
		return matches[0], nil
	}
	return model.CategoryInfo{}, fmt.Errorf("ambiguous category prefix '%s' matches %d categories", ref, len(matches))
}

// allTasks lists every task of every pool, Dustbin included.
func allTasks(ctx context.Context, svc core.SyncService) ([]model.TaskInfo, error) {
	pools, err := svc.Pools(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.TaskInfo
	for _, p := range pools {
		cats, err := svc.Categories(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range cats {
			tasks, err := svc.Tasks(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, tasks...)
		}
	}
	return out, nil
}

// resolveTaskID resolves a partial ID (prefix) to a full task ID.
func resolveTaskID(ctx context.Context, svc core.SyncService, partialID string) (string, error) {
	tasks, err := allTasks(ctx, svc)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, t := range tasks {
		if t.ID == partialID {
			return t.ID, nil
		}
		if strings.HasPrefix(t.ID, partialID) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no task matches %q", partialID)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("ambiguous ID prefix '%s' matches %d tasks", partialID, len(matches))
}

// forEachTask resolves every id argument and applies fn, reporting each outcome.
func forEachTask(ctx context.Context, w, errw io.Writer, a *app, ids []string, verb string, fn func(context.Context, string) error) error {
	failed := 0
	for _, ref := range ids {
		id, err := resolveTaskID(ctx, a.svc, ref)
		if err == nil {
			err = fn(ctx, id)
		}
		if err != nil {
			fmt.Fprintf(errw, "Error: %s: %v\n", ref, err)
			failed++
			continue
		}
		fmt.Fprintf(w, "%s task %s\n", verb, shortID(id))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(ids))
	}
	return nil
}
