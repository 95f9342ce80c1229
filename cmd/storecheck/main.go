package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

func main() {
	dir := os.Getenv("STORAGE_DIR")
	if dir == "" {
		dir = "./storage"
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "roost.db"))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	if len(os.Args) > 1 && os.Args[1] == "dump" {
		configType := "config"
		if len(os.Args) > 2 {
			configType = os.Args[2]
		}
		dumpType(db, configType)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "cleanup" {
		if res, err := db.Exec("DELETE FROM config WHERE config_value IS NULL OR config_value = ''"); err == nil {
			n, _ := res.RowsAffected()
			fmt.Printf("Deleted %d empty config rows\n", n)
		}
		if res, err := db.Exec("DELETE FROM clients WHERE label = ''"); err == nil {
			n, _ := res.RowsAffected()
			fmt.Printf("Deleted %d unlabeled clients\n", n)
		}
		return
	}

	// Default: row counts per settings namespace
	fmt.Println("Type                     Rows")
	fmt.Println("─────────────────────────────────")
	rows, err := db.Query("SELECT config_type, count(*) FROM config GROUP BY config_type ORDER BY config_type")
	if err != nil {
		panic(err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var count int64
		rows.Scan(&t, &count)
		fmt.Printf("%-25s %d\n", t, count)
	}
	var clients int64
	db.QueryRow("SELECT count(*) FROM clients").Scan(&clients)
	fmt.Printf("%-25s %d\n", "clients", clients)
}

func dumpType(db *sql.DB, configType string) {
	rows, err := db.Query(
		"SELECT config_name, COALESCE(config_value, '') FROM config WHERE config_type = ? ORDER BY config_name",
		configType)
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var name, value string
		rows.Scan(&name, &value)
		found = true
		// Blob rows hold whole JSON documents; indent those for reading.
		var pretty bytes.Buffer
		if json.Indent(&pretty, []byte(value), "  ", "  ") == nil {
			value = pretty.String()
		}
		fmt.Printf("  %s = %s\n", name, value)
	}
	if !found {
		fmt.Printf("  (no %s rows)\n", configType)
	}
}
