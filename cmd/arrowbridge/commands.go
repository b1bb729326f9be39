package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/arrowbridge/pkg/models"
	"github.com/ajitpratap0/arrowbridge/pkg/stream"
)

// commandContext is cancelled on interrupt.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func (c *cli) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <table>",
		Short: "Create an empty table with the demo schema",
		Long:  "Create an empty table with the schema " + models.DemoSchema().String(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := c.app.CreateTable(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created table %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) writeCommand() *cobra.Command {
	var (
		input     string
		format    string
		overwrite bool
		chunk     int
	)
	cmd := &cobra.Command{
		Use:   "write <table>",
		Short: "Append or overwrite a table from an Arrow IPC stream or CSV file",
		Long: `Stream a file into a table one batch at a time.

CSV files must have a header row and the demo columns id, name, value.

Example:
  arrowbridge write people --input people.csv
  arrowbridge write people --input snapshot.arrow --overwrite`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			defer f.Close()

			rdr, err := openInput(f, inputFormat(format, input), chunk)
			if err != nil {
				return err
			}
			// the producer owns rdr from here
			if err := c.app.WriteStream(ctx, args[0], stream.FromReader(rdr), overwrite); err != nil {
				return err
			}
			v, err := c.app.TableVersion(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s, now at version %d\n", args[0], v)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input file (required)")
	cmd.Flags().StringVar(&format, "format", "", "Input format: arrow or csv (default: from the file extension)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace the table contents instead of appending")
	cmd.Flags().IntVar(&chunk, "chunk", 4096, "Rows per batch when reading CSV")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (c *cli) readCommand() *cobra.Command {
	var (
		filter string
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "read <table>",
		Short: "Read a table, optionally filtered",
		Long: `Read the rows of a table as an Arrow IPC stream, CSV or JSON lines.

Example:
  arrowbridge read people --filter "value > 10 AND name != 'x'" --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			// batches go out as they are decoded, one fragment at a time
			return c.app.ScanTo(ctx, args[0], filter, func(rdr array.RecordReader) error {
				return writeOutput(w, rdr, format)
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "Row filter, e.g. \"id >= 10 AND name = 'a'\"")
	cmd.Flags().StringVar(&format, "format", formatJSON, "Output format: arrow, csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func (c *cli) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>",
		Short: "Show a table's schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			schema, err := c.app.TableSchema(ctx, args[0])
			if err != nil {
				return err
			}
			for _, f := range schema.Fields() {
				null := "not null"
				if f.Nullable {
					null = "nullable"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-12s %s\n", f.Name, f.Type, null)
			}
			return nil
		},
	}
}

func (c *cli) dropCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Remove a table and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := c.app.DropTable(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped table %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) versionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <table>",
		Short: "List a table's committed versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			versions, err := c.app.Versions(ctx, args[0])
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
}
