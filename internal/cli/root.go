// Package cli implements the structdb command-line tool.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/hcl"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/andreyvit/structdb"
	"github.com/andreyvit/structdb/kv/badgerkv"
	"github.com/andreyvit/structdb/kv/pebblekv"
)

// settings are the values shared by all commands. Flags given on the command
// line win over the config file.
type settings struct {
	configFile string
	engine     string
	path       string
	verbose    bool
	logLevel   string
	tables     []string
}

func defaultSettings() *settings {
	return &settings{
		configFile: "structdb.hcl",
		engine:     "bolt",
		path:       "structdb.db",
		logLevel:   "info",
	}
}

// NewCommand builds the root command writing its output to out.
func NewCommand(out io.Writer) *cobra.Command {
	st := defaultSettings()
	cfgVars := map[string]*pflag.Flag{}

	root := &cobra.Command{
		Use:           "structdb",
		Short:         "Inspect and exercise structdb databases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		usedFlags := map[string]struct{}{}
		cmd.Flags().Visit(func(flg *pflag.Flag) {
			usedFlags[flg.Name] = struct{}{}
		})
		err := loadConfig(st.configFile, cfgVars, usedFlags)
		if err != nil {
			return fmt.Errorf("structdb: %s: %w", st.configFile, err)
		}
		ll, err := log.ParseLevel(st.logLevel)
		if err != nil {
			return fmt.Errorf("structdb: %w", err)
		}
		log.SetLevel(ll)
		return nil
	}

	pf := root.PersistentFlags()
	pf.StringVar(&st.configFile, "config", st.configFile, "HCL `file` to load settings from")
	pf.StringVar(&st.engine, "engine", st.engine, "storage engine: bolt, badger, pebble or memory")
	cfgVars["engine"] = pf.Lookup("engine")
	pf.StringVar(&st.path, "path", st.path, "database `file` (bolt) or directory (badger, pebble)")
	cfgVars["path"] = pf.Lookup("path")
	pf.BoolVarP(&st.verbose, "verbose", "v", st.verbose, "log every database operation")
	cfgVars["verbose"] = pf.Lookup("verbose")
	pf.StringVar(&st.logLevel, "log-level", st.logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	cfgVars["log-level"] = pf.Lookup("log-level")
	pf.StringArrayVarP(&st.tables, "table", "t", nil, "table to define as `NAME[:INDEX,INDEX...]`; multiple allowed")
	cfgVars["tables"] = pf.Lookup("table")

	root.AddCommand(newStatsCommand(st), newDumpCommand(st), newBenchCommand(st))
	return root
}

// Execute runs the tool with os.Args.
func Execute() error {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})
	return NewCommand(os.Stdout).Execute()
}

func loadConfig(path string, cfgVars map[string]*pflag.Flag, usedFlags map[string]struct{}) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	var cfg map[string]interface{}
	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return err
	}
	for name, val := range cfg {
		flg, ok := cfgVars[name]
		if !ok {
			return fmt.Errorf("%s is not a config variable", name)
		}
		if _, ok := usedFlags[flg.Name]; ok {
			continue
		}
		if list, ok := val.([]interface{}); ok {
			for _, item := range list {
				err = flg.Value.Set(fmt.Sprintf("%v", item))
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
			continue
		}
		err = flg.Value.Set(fmt.Sprintf("%v", val))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// openDB opens the configured engine and defines the tables given with
// --table.
func (st *settings) openDB() (*structdb.DB, []structdb.Schema, error) {
	schemas, err := parseTables(st.tables)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if st.verbose {
		level = slog.LevelDebug
	}
	opt := structdb.Options{
		Logger:  slog.New(slog.NewTextHandler(log.StandardLogger().Writer(), &slog.HandlerOptions{Level: level})),
		Verbose: st.verbose,
	}

	var db *structdb.DB
	switch st.engine {
	case "bolt":
		db, err = structdb.Open(st.path, opt)
	case "badger":
		var e *badgerkv.Engine
		e, err = badgerkv.Open(st.path, badgerkv.Options{Logger: log.StandardLogger()})
		if err == nil {
			db = structdb.New(e, opt)
		}
	case "pebble":
		var e *pebblekv.Engine
		e, err = pebblekv.Open(st.path, pebblekv.Options{Logger: log.StandardLogger()})
		if err == nil {
			db = structdb.New(e, opt)
		}
	case "memory":
		db = structdb.OpenMemory(opt)
	default:
		return nil, nil, fmt.Errorf("unknown engine %q", st.engine)
	}
	if err != nil {
		return nil, nil, err
	}

	for _, s := range schemas {
		db.DefineSchema(s)
	}
	log.WithFields(log.Fields{"engine": st.engine, "path": st.path, "tables": len(schemas)}).Debug("database opened")
	return db, schemas, nil
}

// parseTables parses NAME[:INDEX,INDEX...] table specs.
func parseTables(specs []string) ([]structdb.Schema, error) {
	var result []structdb.Schema
	for _, spec := range specs {
		name, indexes, _ := strings.Cut(spec, ":")
		if name == "" {
			return nil, fmt.Errorf("invalid table %q", spec)
		}
		s := structdb.Schema{TableName: name}
		if indexes != "" {
			for _, index := range strings.Split(indexes, ",") {
				if index == "" {
					return nil, fmt.Errorf("invalid table %q: empty index name", spec)
				}
				s.SecondaryKeys = append(s.SecondaryKeys, structdb.KeyDef(index))
			}
		}
		result = append(result, s)
	}
	return result, nil
}
