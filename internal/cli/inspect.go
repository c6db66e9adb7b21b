package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/andreyvit/structdb"
)

func newStatsCommand(st *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print row and index entry counts of the tables given with --table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReadTx(st, func(txn *structdb.ReadOnlyTransaction) error {
				stats, err := txn.Stats()
				if err != nil {
					return err
				}
				writeStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func writeStats(w io.Writer, stats []structdb.TableStats) {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"table", "rows", "index rows", "data bytes", "index bytes"})
	for _, ts := range stats {
		tw.Append([]string{
			ts.Table,
			strconv.Itoa(ts.Rows),
			strconv.Itoa(ts.IndexRows),
			strconv.Itoa(ts.DataSize),
			strconv.Itoa(ts.IndexSize),
		})
	}
	tw.Render()
	fmt.Fprintf(w, "(%d tables)\n", len(stats))
}

func newDumpCommand(st *settings) *cobra.Command {
	var noIndexRows, noRows bool
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the contents of the tables given with --table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := structdb.DumpAll
			if noRows {
				flags &^= structdb.DumpRows
			}
			if noIndexRows {
				flags &^= structdb.DumpIndexRows
			}
			return withReadTx(st, func(txn *structdb.ReadOnlyTransaction) error {
				out, err := txn.Dump(flags)
				fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&noRows, "no-rows", false, "omit table rows")
	cmd.Flags().BoolVar(&noIndexRows, "no-index-rows", false, "omit index entries")
	return cmd
}

func withReadTx(st *settings, f func(txn *structdb.ReadOnlyTransaction) error) error {
	db, schemas, err := st.openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	if len(schemas) == 0 {
		return fmt.Errorf("no tables given, use --table NAME[:INDEX,...]")
	}

	txn, err := db.ReadTransaction()
	if err != nil {
		return err
	}
	defer txn.Close()
	return f(txn)
}
