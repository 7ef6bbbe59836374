//go:build ignore
// +build ignore

// Generates synthetic contact workbooks for throughput and validation
// testing. Rows are written through the streaming writer so multi-million
// row files stay within a few hundred MB of memory.
//
// Usage:
//   go run scripts/generate_test_workbook.go \
//     --rows=100000 \
//     --sheets=2 \
//     --invalid-pct=5 \
//     --dup-pct=10 \
//     --out=testdata/contacts_100k.xlsx
//
// invalid-pct rows get a malformed phone number so validation paths see
// realistic error rates; dup-pct rows reuse an earlier phone so dedup
// strategies have something to chew on.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

var surnames = []string{"张", "王", "李", "赵", "刘", "陈", "杨", "黄", "周", "吴"}
var givens = []string{"伟", "芳", "娜", "敏", "静", "磊", "军", "洋", "勇", "艳"}

func main() {
	rows := flag.Int("rows", 10000, "data rows per sheet")
	sheets := flag.Int("sheets", 1, "number of sheets")
	invalidPct := flag.Int("invalid-pct", 0, "percentage of rows with a malformed phone")
	dupPct := flag.Int("dup-pct", 0, "percentage of rows reusing an earlier phone")
	out := flag.String("out", "testdata/contacts.xlsx", "output path")
	seed := flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	start := time.Now()
	var invalid, dups int

	for s := 0; s < *sheets; s++ {
		sheetName := fmt.Sprintf("Sheet%d", s+1)
		if s > 0 {
			if _, err := f.NewSheet(sheetName); err != nil {
				log.Fatalf("create sheet %s: %v", sheetName, err)
			}
		}

		sw, err := f.NewStreamWriter(sheetName)
		if err != nil {
			log.Fatalf("stream writer for %s: %v", sheetName, err)
		}
		if err := sw.SetRow("A1", []interface{}{"姓名", "电话", "邮箱"}); err != nil {
			log.Fatalf("write header: %v", err)
		}

		var phones []string
		for i := 0; i < *rows; i++ {
			name := surnames[rng.Intn(len(surnames))] + givens[rng.Intn(len(givens))]
			phone := fmt.Sprintf("1%d%09d", 3+rng.Intn(6), rng.Intn(1_000_000_000))
			email := fmt.Sprintf("user%d_%d@example.com", s, i)

			switch {
			case *invalidPct > 0 && rng.Intn(100) < *invalidPct:
				phone = fmt.Sprintf("%d", rng.Intn(100000))
				invalid++
			case *dupPct > 0 && len(phones) > 0 && rng.Intn(100) < *dupPct:
				phone = phones[rng.Intn(len(phones))]
				dups++
			default:
				phones = append(phones, phone)
			}

			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				log.Fatalf("cell name: %v", err)
			}
			if err := sw.SetRow(cell, []interface{}{name, phone, email}); err != nil {
				log.Fatalf("write row %d: %v", i+2, err)
			}
		}
		if err := sw.Flush(); err != nil {
			log.Fatalf("flush %s: %v", sheetName, err)
		}
	}

	if err := f.SaveAs(*out); err != nil {
		log.Fatalf("save workbook: %v", err)
	}

	info, _ := os.Stat(*out)
	log.Printf("wrote %s: %d sheets x %d rows (%d invalid, %d duplicate) in %s, %d bytes",
		*out, *sheets, *rows, invalid, dups, time.Since(start).Round(time.Millisecond), info.Size())
}
