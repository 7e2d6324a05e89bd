// Command rollwin-pack packs a newline-delimited text file into a record
// store variant on a local directory, MinIO or S3.
//
//	rollwin-pack -in kjv.txt -variant kjv -dir ./data
//	rollwin-pack -in kjv.txt -variant kjv -store minio -endpoint localhost:9000 -bucket bibles
//	rollwin-pack -in kjv.txt -variant kjv -store s3 -bucket bibles -prefix v1 -ddb-table rollwin-commits
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/rollwin"
	"github.com/hupe1980/rollwin/blobstore"
	"github.com/hupe1980/rollwin/blobstore/minio"
	"github.com/hupe1980/rollwin/blobstore/s3"
	"github.com/hupe1980/rollwin/recordstore"
)

type flags struct {
	in           string
	variant      string
	store        string
	dir          string
	endpoint     string
	accessKey    string
	secretKey    string
	secure       bool
	bucket       string
	prefix       string
	ddbTable     string
	compression  string
	blockRecords int
	verbose      bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.in, "in", "", "newline-delimited input file (- for stdin)")
	flag.StringVar(&f.variant, "variant", rollwin.DefaultVariant, "variant name")
	flag.StringVar(&f.store, "store", "local", "blob store: local, minio or s3")
	flag.StringVar(&f.dir, "dir", "./data", "local store directory")
	flag.StringVar(&f.endpoint, "endpoint", "localhost:9000", "MinIO endpoint")
	flag.StringVar(&f.accessKey, "access-key", os.Getenv("MINIO_ACCESS_KEY"), "MinIO access key")
	flag.StringVar(&f.secretKey, "secret-key", os.Getenv("MINIO_SECRET_KEY"), "MinIO secret key")
	flag.BoolVar(&f.secure, "secure", false, "use TLS for MinIO")
	flag.StringVar(&f.bucket, "bucket", "", "MinIO or S3 bucket")
	flag.StringVar(&f.prefix, "prefix", "", "key prefix inside the bucket")
	flag.StringVar(&f.ddbTable, "ddb-table", "", "DynamoDB table for CURRENT pointers (s3 only)")
	flag.StringVar(&f.compression, "compression", "lz4", "block compression: none, lz4 or zstd")
	flag.IntVar(&f.blockRecords, "block-records", recordstore.DefaultBlockRecords, "records per block")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := rollwin.NewTextLogger(level).WithComponent("pack")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, f, logger); err != nil {
		logger.Error("pack failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags, logger *rollwin.Logger) error {
	if f.in == "" {
		return fmt.Errorf("-in is required")
	}
	if err := recordstore.ValidateVariant(f.variant); err != nil {
		return err
	}
	compression, err := recordstore.ParseCompression(f.compression)
	if err != nil {
		return err
	}

	texts, err := readLines(f.in)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, f)
	if err != nil {
		return err
	}

	start := time.Now()
	m, err := recordstore.Pack(ctx, store, f.variant, texts, recordstore.PackOptions{
		Compression:  compression,
		BlockRecords: f.blockRecords,
		Logger:       logger.Logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("variant %q generation %d: %d records, %d blocks, %d bytes (%s) in %v\n",
		m.Variant, m.Generation, m.Total, len(m.Blocks), m.Size(), m.Compression, time.Since(start).Round(time.Millisecond))
	return nil
}

func openStore(ctx context.Context, f flags) (blobstore.BlobStore, error) {
	switch f.store {
	case "local":
		if err := os.MkdirAll(f.dir, 0o755); err != nil {
			return nil, err
		}
		return blobstore.NewLocalStore(f.dir), nil
	case "minio":
		if f.bucket == "" {
			return nil, fmt.Errorf("-bucket is required for minio")
		}
		store, err := minio.Dial(f.endpoint, f.accessKey, f.secretKey, f.secure, f.bucket, f.prefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		if f.bucket == "" {
			return nil, fmt.Errorf("-bucket is required for s3")
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		store := s3.NewStore(awss3.NewFromConfig(cfg), f.bucket, f.prefix)
		if f.ddbTable == "" {
			return store, nil
		}
		baseURI := fmt.Sprintf("s3://%s/%s", f.bucket, f.prefix)
		return s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), f.ddbTable, baseURI), nil
	default:
		return nil, fmt.Errorf("unknown store %q", f.store)
	}
}

func readLines(path string) ([]string, error) {
	r := os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
