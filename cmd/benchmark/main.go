// Command benchmark generates a synthetic CSV file and times the query
// engine against it: a cold describe, the first and a deep page, a capped
// search and a full filtered count.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/csvquery/csvbrowse/internal/metacache"
	"github.com/csvquery/csvbrowse/internal/query"
	"github.com/csvquery/csvbrowse/internal/rowstream"
)

func main() {
	sizeMB := flag.Int("size", 100, "approximate uncompressed size in MB")
	codec := flag.String("codec", "none", "compression: none, gz, lz4 or zst")
	keep := flag.String("keep", "", "write the generated file here instead of a temp dir")
	flag.Parse()

	dir := filepath.Dir(*keep)
	if *keep == "" {
		tmpDir, err := os.MkdirTemp("", "csv_bench")
		if err != nil {
			panic(err)
		}
		defer os.RemoveAll(tmpDir)
		dir = tmpDir
	}

	name := "bench.csv"
	if *keep != "" {
		name = filepath.Base(*keep)
	}
	if *codec != "none" {
		name += "." + *codec
	}

	fmt.Printf("Generating %d MB CSV (%s)...\n", *sizeMB, *codec)
	rows, written, err := generate(filepath.Join(dir, name), *codec, int64(*sizeMB)<<20)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Generated %d rows (%.2f MB)\n", rows, float64(written)/1024/1024)

	cache := metacache.New(metacache.Config{})
	defer cache.Close()
	engine := query.NewEngine(rowstream.FileOpener{Dir: dir}, cache)
	ctx := context.Background()

	timeIt("describe (cold)", written, func() (string, error) {
		e, err := engine.Describe(ctx, name)
		return fmt.Sprintf("%d rows", e.TotalRows), err
	})
	timeIt("describe (cached)", 0, func() (string, error) {
		e, err := engine.Describe(ctx, name)
		return fmt.Sprintf("%d rows", e.TotalRows), err
	})
	timeIt("page 1", 0, func() (string, error) {
		r, err := engine.GetPage(ctx, name, query.Params{Page: 1, PageSize: 50})
		return fmt.Sprintf("%d rows", len(r)), err
	})
	deep := max(1, rows/50/2)
	timeIt(fmt.Sprintf("page %d", deep), written/2, func() (string, error) {
		r, err := engine.GetPage(ctx, name, query.Params{Page: deep, PageSize: 50})
		return fmt.Sprintf("%d rows", len(r)), err
	})
	timeIt("search US-42 (limit 100)", 0, func() (string, error) {
		r, err := engine.Search(ctx, name, "US-42,", 100)
		return fmt.Sprintf("%d matches", len(r)), err
	})
	timeIt("count US-42", written, func() (string, error) {
		n, err := engine.CountMatching(ctx, name, "US-42,")
		return fmt.Sprintf("%d matches", n), err
	})
}

func timeIt(label string, scanned int64, fn func() (string, error)) {
	start := time.Now()
	result, err := fn()
	elapsed := time.Since(start)
	if err != nil {
		panic(fmt.Errorf("%s: %w", label, err))
	}

	fmt.Printf("%-28s %-16s %v", label, result, elapsed)
	if scanned > 0 && elapsed > 0 {
		fmt.Printf("  (%.2f MB/s)", float64(scanned)/1024/1024/elapsed.Seconds())
	}
	fmt.Println()
}

// generate writes rows until limit uncompressed bytes, returning the row
// count and bytes written before compression.
func generate(path, codec string, limit int64) (int, int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var enc io.WriteCloser
	switch codec {
	case "none":
	case "gz":
		enc = gzip.NewWriter(f)
	case "lz4":
		enc = lz4.NewWriter(f)
	case "zst":
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return 0, 0, err
		}
	default:
		return 0, 0, fmt.Errorf("unknown codec %q", codec)
	}

	var sink io.Writer = f
	if enc != nil {
		sink = enc
	}
	w := bufio.NewWriterSize(sink, 64*1024)
	if _, err := w.WriteString("id,code,value,description\n"); err != nil {
		return 0, 0, err
	}

	rng := rand.New(rand.NewSource(123))
	buf := make([]byte, 0, 1024)
	rows := 0
	var written int64
	for written < limit {
		rows++
		buf = buf[:0]
		buf = strconv.AppendInt(buf, int64(rows), 10)
		buf = append(buf, ",US-"...)
		buf = strconv.AppendInt(buf, int64(rng.Intn(1000)), 10)
		buf = append(buf, ',')
		buf = strconv.AppendInt(buf, int64(rng.Intn(10000)), 10)
		buf = fmt.Appendf(buf, ",\"Description for item %d, with a comma and some padding\"\n", rows)

		n, err := w.Write(buf)
		if err != nil {
			return 0, 0, err
		}
		written += int64(n)
	}

	if err := w.Flush(); err != nil {
		return 0, 0, err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return 0, 0, err
		}
	}
	return rows, written, nil
}
