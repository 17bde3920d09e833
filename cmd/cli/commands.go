package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/nickyhof/BranchDB/registry"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "branchdb v%s\n", Version)
		},
	}
}

func newEnsureBranchCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-branch <branch>",
		Short: "Create an orphan branch unless it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := c.connect(cmd)
			if err != nil {
				return err
			}
			created, err := ps.EnsureBranch(cmd.Context(), instance.Store, args[0])
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), map[string]any{"branch": args[0], "created": created}, func() {
				if created {
					success(cmd.OutOrStdout(), "Created branch %s", args[0])
				} else {
					success(cmd.OutOrStdout(), "Branch %s already exists", args[0])
				}
			})
		},
	}
}

func newProfileCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Register and inspect user profiles",
	}

	get := &cobra.Command{
		Use:   "get <username>",
		Short: "Show a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.engine(cmd)
			if err != nil {
				return err
			}
			profile, err := engine.GetProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if profile == nil {
				return fmt.Errorf("user %q not found", args[0])
			}
			return c.emit(cmd.OutOrStdout(), profile, func() {
				table := NewTable(cmd.OutOrStdout(), "Field", "Value")
				table.Row("username", profile.Username)
				table.Row("display name", profile.DisplayName)
				table.Row("bio", profile.Bio)
				table.Row("website", profile.Website)
				table.Row("views", strconv.Itoa(profile.Views))
				table.Row("created", profile.CreatedAt.Format(time.RFC3339))
				table.Render()
			})
		},
	}

	var displayName string
	register := &cobra.Command{
		Use:   "register <username>",
		Short: "Create a user's branch and profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.engine(cmd)
			if err != nil {
				return err
			}
			var input db.ProfileInput
			if cmd.Flags().Changed("display-name") {
				input.DisplayName = &displayName
			}
			profile, err := engine.RegisterUser(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), profile, func() {
				success(cmd.OutOrStdout(), "Registered %s", profile.Username)
			})
		},
	}
	register.Flags().StringVar(&displayName, "display-name", "", "display name for a new profile")

	cmd.AddCommand(get, register)
	return cmd
}

func newShowcaseCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "showcase",
		Short: "Manage a user's showcases",
	}

	var publishedOnly bool
	list := &cobra.Command{
		Use:   "list <username>",
		Short: "List showcases in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.engine(cmd)
			if err != nil {
				return err
			}
			items, err := engine.ListShowcases(cmd.Context(), args[0], publishedOnly)
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), items, func() {
				table := NewTable(cmd.OutOrStdout(), "#", "Slug", "Title", "Published", "Views", "Clicks")
				for _, item := range items {
					table.Row(strconv.Itoa(item.Position), item.Slug, item.Title, strconv.FormatBool(item.Published),
						strconv.Itoa(item.Views), strconv.Itoa(item.Clicks))
				}
				table.Render()
			})
		},
	}
	list.Flags().BoolVar(&publishedOnly, "published", false, "only published showcases")

	var title, url, description string
	var publish bool
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a showcase with a unique slug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.engine(cmd)
			if err != nil {
				return err
			}
			input := db.ShowcaseInput{Title: &title, Published: &publish}
			if url != "" {
				input.URL = &url
			}
			if description != "" {
				input.Description = &description
			}
			showcase, err := engine.CreateShowcase(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), showcase, func() {
				success(cmd.OutOrStdout(), "Created showcase %s", showcase.Slug)
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "showcase title")
	create.Flags().StringVar(&url, "url", "", "link to the project")
	create.Flags().StringVar(&description, "description", "", "short description")
	create.Flags().BoolVar(&publish, "publish", false, "publish immediately")
	create.MarkFlagRequired("title")

	remove := &cobra.Command{
		Use:     "delete <username> <slug>",
		Aliases: []string{"rm"},
		Short:   "Delete a showcase",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.engine(cmd)
			if err != nil {
				return err
			}
			if err := engine.DeleteShowcase(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), map[string]string{"deleted": args[1]}, func() {
				success(cmd.OutOrStdout(), "Deleted showcase %s", args[1])
			})
		},
	}

	cmd.AddCommand(list, create, remove)
	return cmd
}

func newRegistryCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and repair the user registry",
	}

	var query registry.Query
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.engine(cmd)
			if err != nil {
				return err
			}
			page, err := engine.ListProfiles(cmd.Context(), query)
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), page, func() {
				renderEntries(cmd, page.Entries)
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d users\n", len(page.Entries), page.Total)
			})
		},
	}
	list.Flags().StringVarP(&query.Text, "query", "q", "", "filter by username, display name or bio")
	list.Flags().StringVar(&query.Sort, "sort", registry.SortName, "sort order (name|newest|updated|showcases)")
	list.Flags().IntVar(&query.Limit, "limit", 0, "maximum entries (0 for all)")
	list.Flags().IntVar(&query.Offset, "offset", 0, "entries to skip")

	var dryRun bool
	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerate the registry from user branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := c.engine(cmd)
			if err != nil {
				return err
			}
			if !dryRun {
				rebuilt, err := engine.RebuildRegistry(cmd.Context())
				if err != nil {
					return err
				}
				return c.emit(cmd.OutOrStdout(), rebuilt, func() {
					success(cmd.OutOrStdout(), "Rebuilt registry with %d users", len(rebuilt.Entities))
				})
			}

			derived, err := engine.DeriveRegistry(cmd.Context())
			if err != nil {
				return err
			}
			current, _, err := engine.Registry().GetFresh(cmd.Context())
			if err != nil {
				return err
			}
			diff, err := registry.Diff(current, derived)
			if err != nil {
				return err
			}
			return c.emit(cmd.OutOrStdout(), map[string]any{"entities": len(derived.Entities), "diff": diff}, func() {
				if diff == "" {
					success(cmd.OutOrStdout(), "Registry is up to date")
					return
				}
				fmt.Fprint(cmd.OutOrStdout(), diff)
			})
		},
	}
	rebuild.Flags().BoolVar(&dryRun, "dry-run", false, "print the difference without writing")

	cmd.AddCommand(list, rebuild)
	return cmd
}

func renderEntries(cmd *cobra.Command, entries []core.RegistryEntry) {
	table := NewTable(cmd.OutOrStdout(), "Username", "Display name", "Showcases", "Published", "Joined")
	for _, entry := range entries {
		table.Row(entry.Username, entry.DisplayName, strconv.Itoa(entry.ShowcaseCount),
			strconv.Itoa(entry.PublishedCount), entry.JoinedAt.Format(time.DateOnly))
	}
	table.Render()
}
