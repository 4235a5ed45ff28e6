package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hibiki/common/spec/rules"
	"github.com/bdobrica/Hibiki/internal/hibiki/sanitize"
)

func sanitizeCmd() *cobra.Command {
	var (
		rulesPath string
		opts      = sanitize.DefaultOptions
	)
	cmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Clean provider text read from stdin with the sanitizer rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := rules.Load(rulesPath)
			if err != nil {
				return err
			}
			s, err := sanitize.New(rs)
			if err != nil {
				return err
			}
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			out, ok := s.Clean(string(raw), opts)
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), "(dropped: status notice or nothing left)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "rules file (defaults to the built-in rules)")
	cmd.Flags().BoolVar(&opts.CheckStatus, "check-status", opts.CheckStatus, "drop progress notices")
	cmd.Flags().BoolVar(&opts.RemoveDuplicateLines, "dedupe", opts.RemoveDuplicateLines, "remove repeated and empty lines")
	cmd.Flags().IntVar(&opts.MaxLength, "max-length", opts.MaxLength, "truncate to this many runes (0 disables)")
	return cmd
}
