// histdata fetches historical market data from a supported exchange and
// exports it as CSV. The CSV schema is determined by the data type, not
// the exchange, so files from different exchanges line up column for
// column.
//
// Usage:
//
//	histdata --exchange binance --symbol BTCUSDT --start 2025-01-01 --end 2025-02-01
//	histdata --exchange okx --symbol BTCUSDT --start 2025-01-01 --end 2025-02-01 --types ohlcv,funding_rate
//	histdata --list-types
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/quantfetch/marketdata/internal/config"
	"github.com/quantfetch/marketdata/internal/exchange"
	"github.com/quantfetch/marketdata/internal/logger"
	"github.com/quantfetch/marketdata/internal/schema"
	"github.com/quantfetch/marketdata/internal/validator"

	apperrors "github.com/quantfetch/marketdata/internal/errors"
)

const (
	exitSuccess     = 0
	exitUsageError  = 1
	exitConfigError = 2
	exitDataError   = 4
	exitInterrupt   = 130
)

type options struct {
	configPath string
	exchange   string
	symbol     string
	start      string
	end        string
	interval   string
	period     string
	types      string
	outputDir  string
	listTypes  bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to JSON config file")
	flag.StringVar(&opts.exchange, "exchange", "", "exchange name (default from config: binance)")
	flag.StringVar(&opts.symbol, "symbol", "", "trading pair, e.g. BTCUSDT")
	flag.StringVar(&opts.start, "start", "", "start date (YYYY-MM-DD or \"YYYY-MM-DD HH:MM:SS\")")
	flag.StringVar(&opts.end, "end", "", "end date, exclusive")
	flag.StringVar(&opts.interval, "interval", "1h", "kline interval for candle data types")
	flag.StringVar(&opts.period, "period", "1h", "analytics period for ratio/open-interest types")
	flag.StringVar(&opts.types, "types", "", "comma-separated data types (default: all)")
	flag.StringVar(&opts.outputDir, "out", "", "output directory (default from config)")
	flag.BoolVar(&opts.listTypes, "list-types", false, "list available data types and exit")
	flag.Parse()

	if opts.listTypes {
		printTypes()
		return exitSuccess
	}

	if opts.symbol == "" || opts.start == "" || opts.end == "" {
		fmt.Fprintln(os.Stderr, "error: --symbol, --start and --end are required")
		flag.Usage()
		return exitUsageError
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}
	if opts.exchange == "" {
		opts.exchange = cfg.Export.Exchange
	}
	if opts.outputDir == "" {
		opts.outputDir = cfg.Export.OutputDir
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}
	defer log.Close()

	types, err := parseTypes(opts.types)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsageError
	}

	src, err := exchange.New(opts.exchange, exchange.Config{
		MaxRetries:     cfg.Transport.MaxRetries,
		RateLimitSleep: cfg.RateLimitSleep(),
		HTTPTimeout:    cfg.HTTPTimeoutDuration(),
		Logger:         log.Logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitUsageError
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}

	failures := 0
	for _, dt := range types {
		if ctx.Err() != nil {
			log.Warn("interrupted, stopping")
			return exitInterrupt
		}
		if err := exportOne(ctx, src, dt, opts, log); err != nil {
			if apperrors.IsUnsupported(err) {
				log.Warn("skipping unsupported data type",
					"exchange", src.Exchange(), "type", dt.String())
				continue
			}
			log.Error("fetch failed", "type", dt.String(), "error", err)
			failures++
		}
	}
	if failures > 0 {
		return exitDataError
	}
	return exitSuccess
}

func exportOne(ctx context.Context, src exchange.Source, dt schema.DataType, opts options, log *logger.Logger) error {
	req := exchange.FetchRequest{
		Type:     dt,
		Symbol:   opts.symbol,
		Start:    opts.start,
		End:      opts.end,
		Interval: opts.interval,
		Period:   opts.period,
	}
	table, err := src.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		log.Info("no data in range", "type", dt.String())
		return nil
	}

	startMS, endMS, err := req.Window()
	if err != nil {
		return err
	}
	if err := validator.Check(table, startMS, endMS); err != nil {
		return fmt.Errorf("%s failed validation: %w", dt, err)
	}

	path := filepath.Join(opts.outputDir, makeFilename(src.Exchange(), opts.symbol, dt, opts))
	if err := writeCSV(path, table); err != nil {
		return err
	}
	log.Info("exported", "type", dt.String(), "rows", table.Len(), "path", path)
	return nil
}

// makeFilename builds yyyymmdd_hhmm_<exchange>_<symbol>[_<granularity>]_<type>.csv.
func makeFilename(exchangeName, symbol string, dt schema.DataType, opts options) string {
	prefix := time.Now().Format("20060102_1504")
	parts := []string{prefix, strings.ToLower(exchangeName), strings.ToLower(symbol)}
	switch {
	case dt.UsesInterval():
		parts = append(parts, opts.interval)
	case dt.UsesPeriod():
		parts = append(parts, opts.period)
	}
	parts = append(parts, dt.String())
	return strings.Join(parts, "_") + ".csv"
}

func writeCSV(path string, table *schema.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(table.Columns()); err != nil {
		return err
	}
	record := make([]string, len(table.Columns()))
	for _, row := range table.Rows() {
		for i, cell := range row {
			record[i] = cell.String()
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func parseTypes(arg string) ([]schema.DataType, error) {
	if strings.TrimSpace(arg) == "" {
		return schema.AllDataTypes(), nil
	}
	var out []schema.DataType
	for _, name := range strings.Split(arg, ",") {
		dt, err := schema.ParseDataType(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("%w; available: %s", err, strings.Join(typeNames(), ", "))
		}
		out = append(out, dt)
	}
	return out, nil
}

func typeNames() []string {
	var names []string
	for _, dt := range schema.AllDataTypes() {
		names = append(names, dt.String())
	}
	return names
}

func printTypes() {
	var interval, period, plain []string
	for _, dt := range schema.AllDataTypes() {
		switch {
		case dt.UsesInterval():
			interval = append(interval, dt.String())
		case dt.UsesPeriod():
			period = append(period, dt.String())
		default:
			plain = append(plain, dt.String())
		}
	}
	fmt.Println("Available data types:")
	fmt.Printf("  interval types (use --interval): %s\n", strings.Join(interval, ", "))
	fmt.Printf("  period types   (use --period):   %s\n", strings.Join(period, ", "))
	fmt.Printf("  no granularity:                  %s\n", strings.Join(plain, ", "))
	fmt.Printf("Supported exchanges: %s\n", strings.Join(exchange.Supported(), ", "))
}
