package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"ibkrfeed/pkg/ibkrfeed"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: ibkrfeed-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  health       Show ibkrfeed-server status\n")
	fmt.Fprintf(os.Stderr, "  series       Fetch close series\n")
	fmt.Fprintf(os.Stderr, "  monthly      Fetch month-end closes\n")
	fmt.Fprintf(os.Stderr, "  snapshot     Fetch quote snapshots (SYMBOL:CLASS ...)\n")
	fmt.Fprintf(os.Stderr, "  accounts     List visible accounts\n")
	fmt.Fprintf(os.Stderr, "  profiles     List instrument profiles\n")
	fmt.Fprintf(os.Stderr, "  cache-stats  Show cache statistics\n")
	fmt.Fprintf(os.Stderr, "  cache-clear  Delete cache entries\n")
	fmt.Fprintf(os.Stderr, "\nSet IBKRFEED_URL to target a non-default server.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("ibkrfeed-cli %s\n", version)
		return
	}

	baseURL := "http://127.0.0.1:8090"
	if v := os.Getenv("IBKRFEED_URL"); v != "" {
		baseURL = v
	}
	client := ibkrfeed.NewClient(baseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	switch cmd {
	case "health":
		err = runHealth(ctx, client, args)
	case "series", "monthly":
		err = runSeries(ctx, client, cmd, args)
	case "snapshot":
		err = runSnapshot(ctx, client, args)
	case "accounts":
		var accts []string
		if accts, err = client.Accounts(ctx); err == nil {
			fmt.Println(strings.Join(accts, "\n"))
		}
	case "profiles":
		var profiles []ibkrfeed.Profile
		if profiles, err = client.Profiles(ctx); err == nil {
			for _, p := range profiles {
				fmt.Printf("%-14s %-10s %-22s %s\n", p.Class, p.BarSize, strings.Join(p.Chain, ">"), p.Description)
			}
		}
	case "cache-stats":
		var st *ibkrfeed.CacheStats
		if st, err = client.CacheStats(ctx); err == nil {
			printJSON(st)
		}
	case "cache-clear":
		err = runCacheClear(ctx, client, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runHealth(ctx context.Context, client *ibkrfeed.Client, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	grpcAddr := fs.String("grpc", "", "also query the gRPC health service at this address")
	fs.Parse(args)

	h, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s\nconnection: %s\ntime: %s\n", h.Status, h.Connection, h.Time)
	if *grpcAddr != "" {
		out, err := ibkrfeed.CheckHealth(ctx, *grpcAddr, ibkrfeed.GatewayService)
		if err != nil {
			return err
		}
		fmt.Printf("grpc %s: %s\n", ibkrfeed.GatewayService, out)
	}
	return nil
}

func runSeries(ctx context.Context, client *ibkrfeed.Client, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	class := fs.String("class", "futures", "instrument class")
	start := fs.String("start", "", "start date YYYY-MM-DD")
	end := fs.String("end", "", "end date YYYY-MM-DD")
	variant := fs.String("variant", "", "force one data variant (series only)")
	hint := fs.String("hint", "", "identity hint as JSON")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("%s: at least one symbol is required", cmd)
	}

	q := ibkrfeed.SeriesQuery{Symbols: fs.Args(), Class: *class, Variant: *variant}
	var err error
	if q.Start, err = parseDate(*start); err != nil {
		return err
	}
	if q.End, err = parseDate(*end); err != nil {
		return err
	}
	if *hint != "" {
		if err := json.Unmarshal([]byte(*hint), &q.Hint); err != nil {
			return fmt.Errorf("invalid hint: %w", err)
		}
	}

	var resp *ibkrfeed.SeriesResponse
	if cmd == "monthly" {
		resp, err = client.Monthly(ctx, q)
	} else {
		resp, err = client.Series(ctx, q)
	}
	if err != nil {
		return err
	}
	for _, s := range resp.Series {
		fmt.Printf("# %s (%d bars)\n", s.Symbol, s.Bars)
		dates := make([]string, 0, len(s.Data))
		for d := range s.Data {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		for _, d := range dates {
			fmt.Printf("%s\t%g\n", d, s.Data[d])
		}
	}
	return nil
}

func runSnapshot(ctx context.Context, client *ibkrfeed.Client, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	wait := fs.Duration("wait", 0, "how long to wait for quotes")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("snapshot: at least one SYMBOL:CLASS is required")
	}

	var instruments []ibkrfeed.Instrument
	for _, a := range fs.Args() {
		sym, class, ok := strings.Cut(a, ":")
		if !ok {
			class = "equity"
		}
		instruments = append(instruments, ibkrfeed.Instrument{Symbol: sym, Class: class})
	}
	snaps, err := client.Snapshots(ctx, instruments, *wait)
	if err != nil {
		return err
	}
	printJSON(snaps)
	return nil
}

func runCacheClear(ctx context.Context, client *ibkrfeed.Client, args []string) error {
	fs := flag.NewFlagSet("cache-clear", flag.ExitOnError)
	hours := fs.Float64("older-than-hours", 0, "only delete entries older than this; 0 deletes all")
	fs.Parse(args)

	res, err := client.ClearCache(ctx, *hours)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", v)
	}
	return t, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
