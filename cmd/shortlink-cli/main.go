package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"
)

var (
	serverURL = flag.String("server", "http://localhost:3000", "shortlink HTTP API base URL")
	timeout   = flag.Duration("timeout", 10*time.Second, "request timeout")
)

const usage = `Usage: shortlink-cli [flags] <command> [command flags] <value>

A CLI to interact with the shortlink service.

Commands:
  shorten [-custom code] <url>    Shortens a long URL, optionally with a custom code.
  get <code>                      Shows the link behind a short code and its click count.

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Error: invalid arguments. Expected a command and a value.")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := newClient(*serverURL)

	var err error
	switch args[0] {
	case "shorten":
		err = shortenCmd(ctx, client, args[1:])
	case "get":
		err = getCmd(ctx, client, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func shortenCmd(ctx context.Context, c *client, args []string) error {
	fs := flag.NewFlagSet("shorten", flag.ExitOnError)
	custom := fs.String("custom", "", "custom short code (3-15 letters, digits, '_' or '-')")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("shorten expects exactly one url")
	}

	res, err := c.shorten(ctx, fs.Arg(0), *custom)
	if err != nil {
		return err
	}
	fmt.Printf("short url: %s\n", res.ShortURL)
	return nil
}

func getCmd(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get expects exactly one short code")
	}

	link, err := c.link(ctx, args[0])
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.notFound() {
			fmt.Println("url not found")
			return nil
		}
		return err
	}
	fmt.Printf("original url: %s\nclicks: %d\ncreated at: %s\n", link.LongURL, link.Clicks, link.CreatedAt.Format(time.RFC3339))
	return nil
}
