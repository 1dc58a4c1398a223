// Command fedctl drives a node's operator endpoints: sharing records,
// accepting invites from other nodes and pulling share updates.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docopt/docopt-go"
)

const fedctlVersion = "0.1.0"

const usage = `Federated records control.

Usage:
    fedctl identity [--url=<url>]
    fedctl share [--url=<url>] --actor=<actor> <collection> <record_id>
    fedctl accept [--url=<url>] --actor=<actor> <invite_url>
    fedctl sync [--url=<url>] --actor=<actor> <share_id>
    fedctl records [--url=<url>] <collection> [--filter=<filter>] [--sort=<sort>]
        [--expand=<expand>] [--page=<page>] [--per_page=<per_page>]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --url=<url>            Node base url [default: http://localhost:8080].
    --actor=<actor>        Principal recorded as owner of the share.
    --filter=<filter>      Filter expression, e.g. 'name = "A"'.
    --sort=<sort>          Comma separated fields, '-' for descending.
    --expand=<expand>      Comma separated relation paths.
    --page=<page>          Page number [default: 1].
    --per_page=<per_page>  Page size [default: 50].`

var out = log.New(os.Stdout, "", 0)

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], fedctlVersion)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("fedctl: %v", err)
	}
}

func run(ctx context.Context, opts docopt.Opts) error {
	baseURL, _ := opts.String("--url")
	actor, _ := opts.String("--actor")
	c := newClient(baseURL, actor)

	var (
		result any
		err    error
	)
	switch {
	case flag(opts, "identity"):
		result, err = c.identity(ctx)
	case flag(opts, "share"):
		collection, _ := opts.String("<collection>")
		recordID, _ := opts.String("<record_id>")
		result, err = c.share(ctx, collection, recordID)
	case flag(opts, "accept"):
		inviteURL, _ := opts.String("<invite_url>")
		result, err = c.accept(ctx, inviteURL)
	case flag(opts, "sync"):
		shareID, _ := opts.String("<share_id>")
		result, err = c.sync(ctx, shareID)
	case flag(opts, "records"):
		q, qerr := parseRecordsQuery(opts)
		if qerr != nil {
			return qerr
		}
		result, err = c.records(ctx, q)
	default:
		return fmt.Errorf("no command given")
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func flag(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

func parseRecordsQuery(opts docopt.Opts) (recordsQuery, error) {
	var q recordsQuery
	q.collection, _ = opts.String("<collection>")
	q.filter, _ = opts.String("--filter")
	q.sort, _ = opts.String("--sort")
	q.expand, _ = opts.String("--expand")

	var err error
	if q.page, err = opts.Int("--page"); err != nil {
		return q, fmt.Errorf("--page: %w", err)
	}
	if q.perPage, err = opts.Int("--per_page"); err != nil {
		return q, fmt.Errorf("--per_page: %w", err)
	}
	return q, nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	out.Println(string(b))
	return nil
}
