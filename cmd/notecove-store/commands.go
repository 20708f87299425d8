package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drewcsillag/notecove/pkg/compactor"
	"github.com/drewcsillag/notecove/pkg/engine"
	"github.com/drewcsillag/notecove/pkg/gc"
	"github.com/drewcsillag/notecove/pkg/layout"
	"github.com/drewcsillag/notecove/pkg/profile"
	"github.com/drewcsillag/notecove/pkg/reconstruct"
	"github.com/drewcsillag/notecove/pkg/store"
	"github.com/drewcsillag/notecove/pkg/timeline"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/spf13/cobra"
)

var (
	flagSDID   string
	flagSDPath string
	flagDev    bool
)

// openStore builds a store bound to this profile's instance id with one
// registered SD.
func openStore() (*store.Store, *profile.DB, error) {
	db, err := profile.Open(flagProfileDir)
	if err != nil {
		return nil, nil, err
	}
	instanceID, err := db.InstanceID()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	st := store.NewStore(instanceID)
	st.RegisterSD(flagSDID, flagSDPath)
	return st, db, nil
}

func addSDFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagSDID, "sd", "default", "Storage directory id")
	cmd.Flags().StringVar(&flagSDPath, "sd-path", "", "Storage directory path")
	cmd.MarkFlagRequired("sd-path")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a profile and stamp a storage directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := profile.Open(flagProfileDir)
		if err != nil {
			return err
		}
		defer db.Close()

		instanceID, err := db.InstanceID()
		if err != nil {
			return err
		}
		sd := layout.New(flagSDPath)
		sdType := types.SDTypeProd
		if flagDev {
			sdType = types.SDTypeDev
		}
		if err := profile.WriteSDType(sd, sdType); err != nil {
			return err
		}
		if err := db.WritePresence(sd, Version); err != nil {
			return err
		}
		fmt.Printf("Initialized profile %s (instance %s) on %s [%s]\n", flagProfileDir, instanceID, flagSDPath, sdType)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a storage directory's notes, file counts, and presences",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		sd, err := st.SD(flagSDID)
		if err != nil {
			return err
		}
		sdType, err := profile.ReadSDType(sd)
		if err != nil {
			return err
		}
		fmt.Printf("SD %s (%s) type=%s\n", flagSDID, flagSDPath, sdType)

		noteIDs, err := st.ListNoteIDs(flagSDID)
		if err != nil {
			return err
		}
		for _, noteID := range noteIDs {
			updates, _ := st.ListNoteUpdateFiles(flagSDID, noteID)
			packs, _ := st.ListPackFiles(flagSDID, noteID)
			snapshots, _ := st.ListSnapshotFiles(flagSDID, noteID)
			fmt.Printf("  %s: %d updates, %d packs, %d snapshots\n", noteID, len(updates), len(packs), len(snapshots))
		}

		presences, err := profile.ReadPresences(sd)
		if err != nil {
			return err
		}
		now := types.NowMillis()
		for _, p := range presences {
			stale := ""
			if profile.IsStale(p, now) {
				stale = " (stale)"
			}
			fmt.Printf("  presence: %s@%s app=%s%s\n", p.Username, p.Hostname, p.AppVersion, stale)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine: watcher, poller, compaction, and GC loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if metricsAddr != "" {
			cfg.MetricsAddr = metricsAddr
		}
		eng, err := engine.Open(flagProfileDir, cfg)
		if err != nil {
			return err
		}
		if err := eng.AddSD(flagSDID, flagSDPath); err != nil {
			return err
		}
		eng.Start()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		return eng.Stop()
	},
}

var metricsAddr string

var compactCmd = &cobra.Command{
	Use:   "compact [noteID...]",
	Short: "Run one compaction pass (all notes unless ids are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		c := compactor.New(st, cfg.Compaction, nil)
		noteIDs := args
		if len(noteIDs) == 0 {
			noteIDs, err = st.ListNoteIDs(flagSDID)
			if err != nil {
				return err
			}
		}
		for _, noteID := range noteIDs {
			if err := c.CompactNote(flagSDID, noteID); err != nil {
				fmt.Fprintf(os.Stderr, "compact %s: %v\n", noteID, err)
			}
		}
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc [noteID...]",
	Short: "Run garbage collection (all notes unless ids are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		collector := gc.New(st, cfg.GC, nil)
		noteIDs := args
		if len(noteIDs) == 0 {
			noteIDs, err = st.ListNoteIDs(flagSDID)
			if err != nil {
				return err
			}
		}
		var total types.GCStats
		for _, noteID := range noteIDs {
			stats := collector.RunGarbageCollection(flagSDID, noteID)
			total.SnapshotsDeleted += stats.SnapshotsDeleted
			total.PacksDeleted += stats.PacksDeleted
			total.UpdatesDeleted += stats.UpdatesDeleted
			total.DiskSpaceFreed += stats.DiskSpaceFreed
			total.Errors = append(total.Errors, stats.Errors...)
		}
		fmt.Printf("Deleted %d snapshots, %d packs, %d updates; freed %d bytes; %d errors\n",
			total.SnapshotsDeleted, total.PacksDeleted, total.UpdatesDeleted, total.DiskSpaceFreed, len(total.Errors))
		return nil
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <noteID>",
	Short: "Show a note's activity sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := timeline.BuildTimelineFromStore(st, flagSDID, args[0], timeline.Options{})
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s .. %s  %d updates by %v\n",
				s.ID,
				time.UnixMilli(s.StartTime).Format(time.RFC3339),
				time.UnixMilli(s.EndTime).Format(time.RFC3339),
				s.UpdateCount, s.InstanceIDs)
		}
		return nil
	},
}

var reconstructAt int64

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <noteID>",
	Short: "Print a note's text at a historical timestamp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := st.CollectUpdates(flagSDID, args[0])
		if err != nil {
			return err
		}
		at := reconstructAt
		if at <= 0 {
			at = types.NowMillis()
		}
		doc, err := reconstruct.New(st).At(flagSDID, args[0], records, reconstruct.Target{Timestamp: at, UpdateIndex: -1})
		if err != nil {
			return err
		}
		fmt.Println(doc.Text())
		return nil
	},
}

func init() {
	addSDFlags(initCmd)
	initCmd.Flags().BoolVar(&flagDev, "dev", false, "Stamp the SD as a development directory")
	addSDFlags(statusCmd)
	addSDFlags(serveCmd)
	addSDFlags(compactCmd)
	addSDFlags(gcCmd)
	addSDFlags(timelineCmd)
	addSDFlags(reconstructCmd)
	reconstructCmd.Flags().Int64Var(&reconstructAt, "at", 0, "Target timestamp in milliseconds (default: now)")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
}
