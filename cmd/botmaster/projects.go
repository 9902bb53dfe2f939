package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"botmaster/internal/config"
)

func newProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects discovered under BM_PROJECT_DIRS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			projects := discoverProjects(cfg.Projects.Dirs)
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects found.")
				return nil
			}

			keys := make([]string, 0, len(projects))
			for k := range projects {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, projects[k])
			}
			return nil
		},
	}
}

// discoverProjects scans each base directory and maps every subdirectory to
// a lowercase key usable in chat commands.
func discoverProjects(dirs []string) map[string]string {
	projects := make(map[string]string)
	for _, base := range dirs {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			key := strings.ToLower(strings.ReplaceAll(e.Name(), " ", "-"))
			projects[key] = filepath.Join(base, e.Name())
		}
	}
	return projects
}
