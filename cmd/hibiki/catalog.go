package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hibiki/common/spec/catalog"
	"github.com/bdobrica/Hibiki/internal/hibiki/commands"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect command catalogs",
	}
	cmd.AddCommand(catalogListCmd())
	cmd.AddCommand(catalogValidateCmd())
	return cmd
}

func catalogListCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the commands of the configured catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				cfg, _, err := loadConfig(true)
				if err != nil {
					return err
				}
				path = cfg.CatalogPath
			}
			doc, err := catalog.Load(path)
			if err != nil {
				return err
			}
			cat, err := commands.NewCatalog(doc)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COMMAND\tPROVIDER\tARGS\tDESCRIPTION")
			for _, c := range cat.List() {
				provider := c.Provider
				if provider == "" {
					provider = "(default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Command, provider, c.ArgsFormat, c.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "catalog file (defaults to HIBIKI_CATALOG_PATH, then the built-in example)")
	return cmd
}

func catalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate catalog files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed []string
			for _, path := range args {
				doc, err := catalog.Load(path)
				if err == nil {
					_, err = commands.NewCatalog(doc)
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed = append(failed, path)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d commands, %d providers)\n", path, len(doc.Commands), len(doc.Providers))
			}
			if len(failed) > 0 {
				return fmt.Errorf("invalid catalogs: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}
