package cli

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tarantool/go-option"

	"github.com/andreyvit/structdb"
	"github.com/andreyvit/structdb/watch"
)

var benchByWriter = structdb.KeyDef("bench_records_by_writer")

type benchRecord struct {
	ID     string `msgpack:"id"`
	Writer uint32 `msgpack:"writer"`
	Seq    int    `msgpack:"seq"`
}

func (*benchRecord) DBSchema() structdb.Schema {
	return structdb.Schema{
		TableName:     "bench_records",
		SecondaryKeys: []structdb.KeyDefinition{benchByWriter},
	}
}

func (r *benchRecord) PrimaryKey() ([]byte, error) {
	return []byte(r.ID), nil
}

func (r *benchRecord) SecondaryKey(def structdb.KeyDefinition) ([]byte, error) {
	if def != benchByWriter {
		return nil, fmt.Errorf("unknown key %s", def.SecondaryTableName())
	}
	return binary.BigEndian.AppendUint32(nil, r.Writer), nil
}

type benchResult struct {
	writers int
	ops     int
	commits int64
	events  int64
	elapsed time.Duration
}

func newBenchCommand(st *settings) *cobra.Command {
	var writers, ops int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent writers against a watched table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if writers < 1 || ops < 1 {
				return fmt.Errorf("--writers and --ops must be positive")
			}
			db, _, err := st.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := runBench(db, writers, ops)
			if err != nil {
				return err
			}

			tw := tablewriter.NewWriter(cmd.OutOrStdout())
			tw.SetAutoFormatHeaders(false)
			tw.SetHeader([]string{"writers", "ops/writer", "commits", "events", "elapsed", "commits/s"})
			tw.Append([]string{
				strconv.Itoa(res.writers),
				strconv.Itoa(res.ops),
				strconv.FormatInt(res.commits, 10),
				strconv.FormatInt(res.events, 10),
				res.elapsed.Round(time.Millisecond).String(),
				fmt.Sprintf("%.0f", float64(res.commits)/res.elapsed.Seconds()),
			})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&writers, "writers", "w", 4, "number of concurrent writers")
	cmd.Flags().IntVarP(&ops, "ops", "n", 1000, "transactions per writer")
	return cmd
}

// runBench has every writer insert ops records, one per transaction, removing
// every fourth one again. A single watcher observes the whole table.
func runBench(db *structdb.DB, writers, ops int) (benchResult, error) {
	structdb.Define[benchRecord](db)

	rcv, watcherID, err := structdb.PrimaryWatch[benchRecord](db, option.None[[]byte]())
	if err != nil {
		return benchResult{}, err
	}

	var events atomic.Int64
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			_, err := rcv.Recv()
			if err == watch.ErrDisconnected {
				return
			}
			events.Add(1)
		}
	}()

	var commits atomic.Int64
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w uint32) {
			defer wg.Done()
			var prev *benchRecord
			for i := 0; i < ops; i++ {
				rec := &benchRecord{ID: uuid.NewString(), Writer: w, Seq: i}
				err := db.Update(func(tables *structdb.Tables) error {
					if i%4 == 3 && prev != nil {
						if err := tables.Remove(prev); err != nil {
							return err
						}
					}
					return tables.Insert(rec)
				})
				if err != nil {
					errs <- fmt.Errorf("writer %d: %w", w, err)
					return
				}
				commits.Add(1)
				prev = rec
			}
		}(uint32(w))
	}
	wg.Wait()
	elapsed := time.Since(start)

	db.Unwatch(watcherID)
	<-consumerDone
	close(errs)
	if err := <-errs; err != nil {
		return benchResult{}, err
	}

	log.WithFields(log.Fields{"commits": commits.Load(), "events": events.Load()}).Info("bench finished")
	return benchResult{
		writers: writers,
		ops:     ops,
		commits: commits.Load(),
		events:  events.Load(),
		elapsed: elapsed,
	}, nil
}
