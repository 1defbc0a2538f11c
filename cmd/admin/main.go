package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	flag "github.com/spf13/pflag"

	"machinesync.dev/internal/endpoint"
	persistlog "machinesync.dev/internal/persistence/log"
	"machinesync.dev/internal/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "status":
			statusCmd(os.Args[2:])
			return
		case "sync":
			syncCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin db|status|sync|audit [flags]")
	os.Exit(2)
}

type syncTotals struct {
	Machine string `json:"machine"`
	Full    int    `json:"full"`
	Delta   int    `json:"delta"`
	Dropped int    `json:"dropped"`
	Bytes   int    `json:"bytes"`
	Slots   int    `json:"slots"`
}

// syncCmd totals the recorded sync traces per machine.
func syncCmd(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	machineID := fs.String("machine", "", "machine id filter")
	_ = fs.Parse(args)

	files, err := persistlog.Files(filepath.Join(*dataDir, "sync"), "sync")
	if err != nil || len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no sync traces found:", err)
		os.Exit(1)
	}
	totals := map[string]*syncTotals{}
	for _, path := range files {
		err := persistlog.ReadFile(path, func(line []byte) error {
			var e endpoint.SyncTrace
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			if *machineID != "" && e.Machine != *machineID {
				return nil
			}
			t := totals[e.Machine]
			if t == nil {
				t = &syncTotals{Machine: e.Machine}
				totals[e.Machine] = t
			}
			switch {
			case e.Dropped:
				t.Dropped++
			case e.Form == endpoint.FormFull:
				t.Full++
			default:
				t.Delta++
			}
			t.Bytes += e.Bytes
			t.Slots += e.Slots
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		printJSON(totals[id])
	}
}

// auditCmd prints audit log entries, optionally only rejected ones.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	rejected := fs.Bool("rejected", false, "only rejected requests")
	_ = fs.Parse(args)

	files, err := persistlog.Files(filepath.Join(*dataDir, "audit"), "audit")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, path := range files {
		err := persistlog.ReadFile(path, func(line []byte) error {
			var e world.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			if *rejected && e.Accepted {
				return nil
			}
			printJSON(e)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
