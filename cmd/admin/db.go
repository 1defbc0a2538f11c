package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"
	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	machineID := fs.String("machine", "", "machine id filter")
	limit := fs.Int("limit", 20, "result limit (audits)")
	_ = fs.Parse(args)

	q := "machines"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "db", "machines.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "machines":
		rows, err := db.Query(`SELECT id,kind,energy,fluid,progress,items_json,redstone,powered,COALESCE(owner,''),access,faces,tick,updated_at FROM machines WHERE ?='' OR id=? ORDER BY id`, *machineID, *machineID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					ID        string          `json:"id"`
					Kind      string          `json:"kind"`
					Energy    int64           `json:"energy"`
					Fluid     int64           `json:"fluid"`
					Progress  int64           `json:"progress"`
					Items     json.RawMessage `json:"items"`
					Redstone  string          `json:"redstone"`
					Powered   bool            `json:"powered"`
					Owner     string          `json:"owner,omitempty"`
					Access    string          `json:"access"`
					Faces     []int           `json:"faces"`
					Tick      int64           `json:"tick"`
					UpdatedAt string          `json:"updated_at"`
				}
				items string
				faces []byte
			)
			if err := rows.Scan(&r.ID, &r.Kind, &r.Energy, &r.Fluid, &r.Progress, &items, &r.Redstone, &r.Powered, &r.Owner, &r.Access, &faces, &r.Tick, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.Items = json.RawMessage(items)
			for _, b := range faces {
				r.Faces = append(r.Faces, int(b))
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "audits":
		if *limit <= 0 {
			*limit = 20
		}
		rows, err := db.Query(`SELECT tick,seq,session,viewer,machine,op,accepted,COALESCE(code,''),COALESCE(detail,'') FROM audits WHERE ?='' OR machine=? ORDER BY tick DESC, seq DESC LIMIT ?`, *machineID, *machineID, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick     int64  `json:"tick"`
				Seq      int    `json:"seq"`
				Session  string `json:"session"`
				Viewer   string `json:"viewer"`
				Machine  string `json:"machine"`
				Op       string `json:"op"`
				Accepted bool   `json:"accepted"`
				Code     string `json:"code,omitempty"`
				Detail   string `json:"detail,omitempty"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Session, &r.Viewer, &r.Machine, &r.Op, &r.Accepted, &r.Code, &r.Detail); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
}
