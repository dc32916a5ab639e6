// Command reconcile-export writes unresolved reconciliation issues (captured
// payments whose order was never confirmed) to a gzip-compressed JSON-lines
// file for support staff.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/storage/postgres"
)

const progressEvery = 1000

func main() {
	var (
		databaseURL string
		out         string
		since       time.Duration
		resolve     bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&out, "out", "", "output file (default reconciliation-<date>.jsonl.gz)")
	flag.DurationVar(&since, "since", 30*24*time.Hour, "export issues detected within this window")
	flag.BoolVar(&resolve, "resolve", false, "mark exported issues as resolved")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	now := time.Now().UTC()
	if out == "" {
		out = fmt.Sprintf("reconciliation-%s.jsonl.gz", now.Format("20060102"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, out, now.Add(-since), resolve); err != nil {
		slog.Error("reconciliation export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("reconciliation export completed", slog.String("file", out))
}

func run(ctx context.Context, databaseURL, out string, since time.Time, resolve bool) error {
	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewReconciliationRepository(pool)

	f, err := os.Create(out)
	if err != nil {
		return errors.Wrapf(err, "create %s", out)
	}
	defer func() { _ = f.Close() }()

	exported, err := export(ctx, repo, f, since)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", out)
	}
	slog.Info("issues exported", slog.Int("count", len(exported)))

	if !resolve {
		return nil
	}
	at := time.Now()
	var resolved int
	for _, id := range exported {
		ok, err := repo.Resolve(ctx, id, at)
		if err != nil {
			return errors.Wrapf(err, "resolve issue %d", id)
		}
		if ok {
			resolved++
		}
	}
	slog.Info("issues resolved", slog.Int("count", resolved))
	return nil
}

// export streams open issues from the ledger through a channel into the
// compressor, returning the ids written.
func export(ctx context.Context, repo *postgres.ReconciliationRepository, dst *os.File, since time.Time) ([]int64, error) {
	issues := make(chan postgres.Issue, 256)
	var ids []int64

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(issues)
		return repo.EachOpen(ctx, since, func(i postgres.Issue) error {
			select {
			case issues <- i:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})
	g.Go(func() error {
		gz := pgzip.NewWriter(dst)
		buf := bufio.NewWriter(gz)
		enc := json.NewEncoder(buf)
		for i := range issues {
			if err := enc.Encode(i); err != nil {
				return errors.Wrapf(err, "encode issue %d", i.ID)
			}
			ids = append(ids, i.ID)
			if len(ids)%progressEvery == 0 {
				slog.Info("export progress", slog.Int("written", len(ids)))
			}
		}
		if err := buf.Flush(); err != nil {
			return errors.Wrap(err, "flush")
		}
		return errors.Wrap(gz.Close(), "close gzip")
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}
