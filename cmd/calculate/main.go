// Command calculate reads wallet and exchange exports, replays them through
// the lot processor and writes Form 8949 rows.
//
//	calculate -etherscan export-0xABC...csv -coinbase coinbase.csv \
//	    -policies 2021=fifo,2022=lower-tax-bracket -out form8949.csv
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethlots/tax-engine/internal/config"
	"github.com/ethlots/tax-engine/internal/correlation"
	"github.com/ethlots/tax-engine/internal/form8949"
	"github.com/ethlots/tax-engine/internal/ingest"
	"github.com/ethlots/tax-engine/internal/lot"
	"github.com/ethlots/tax-engine/internal/processor"
	"github.com/ethlots/tax-engine/internal/schedule"
	"github.com/ethlots/tax-engine/internal/subunit"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("calculate failed", "err", err)
		os.Exit(1)
	}
}

type options struct {
	etherscan   []string
	coinbase    string
	coinbasePro string
	blocklist   string
	policies    string
	out         string
	xlsx        string
	tolerance   string
	window      string
}

func parseFlags(args []string, defaultPolicies string) (options, error) {
	var o options
	fs := flag.NewFlagSet("calculate", flag.ContinueOnError)
	fs.Func("etherscan", "Etherscan wallet export; the file name must contain the wallet address (repeatable)", func(s string) error {
		o.etherscan = append(o.etherscan, s)
		return nil
	})
	fs.StringVar(&o.coinbase, "coinbase", "", "Coinbase transaction history CSV")
	fs.StringVar(&o.coinbasePro, "coinbase-pro", "", "Coinbase Pro account statement CSV")
	fs.StringVar(&o.blocklist, "blocklist", "", "comma-separated Coinbase Pro transfer ids to skip")
	fs.StringVar(&o.policies, "policies", defaultPolicies, "tax year methods, e.g. 2020-2021=fifo,2022=lower-tax-bracket")
	fs.StringVar(&o.out, "out", "output.csv", `Form 8949 CSV output path ("-" for stdout)`)
	fs.StringVar(&o.xlsx, "xlsx", "", "optional Form 8949 workbook output path")
	fs.StringVar(&o.tolerance, "amount-tolerance", correlation.DefaultAmountTolerance.String(), "transfer matching tolerance in subunits")
	fs.StringVar(&o.window, "window", correlation.DefaultWindow.String(), "transfer matching time window")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if len(o.etherscan) == 0 && o.coinbase == "" && o.coinbasePro == "" {
		return options{}, errors.New("no input files given")
	}
	return o, nil
}

func run(args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	o, err := parseFlags(args, cfg.TaxPolicies)
	if err != nil {
		return err
	}
	asset := cfg.AssetSpec()

	sched, err := schedule.Parse(o.policies)
	if err != nil {
		return err
	}
	policies, err := sched.Policies()
	if err != nil {
		return err
	}
	matcher, err := newMatcher(o.tolerance, o.window)
	if err != nil {
		return err
	}

	src, err := readSources(o, asset)
	if err != nil {
		return err
	}
	txs, err := ingest.Combine(src, matcher)
	if err != nil {
		return err
	}
	summary := ingest.Summarize(txs)
	slog.Info("transactions loaded",
		"acquisitions", summary.Acquisitions,
		"disposals", summary.Disposals,
		"first", summary.First,
		"last", summary.Last,
	)
	if err := sched.Covers(summary.DisposalYears...); err != nil {
		return fmt.Errorf("-policies: %w", err)
	}

	p := processor.New(txs, policies, processor.WithAsset(asset))
	realized, err := p.Run()
	if err != nil {
		return err
	}
	rows, err := lot.ReportRows(realized, asset)
	if err != nil {
		return err
	}

	if err := writeOutput(o.out, stdout, rows, form8949.WriteCSV); err != nil {
		return err
	}
	if o.xlsx != "" {
		if err := writeOutput(o.xlsx, stdout, rows, form8949.WriteXLSX); err != nil {
			return err
		}
	}

	slog.Info("form 8949 written",
		"rows", len(rows),
		"open_subunits", p.OpenAmount().String(),
		"policies", sched.String(),
		"out", o.out,
	)
	return nil
}

func newMatcher(tolerance, window string) (*correlation.Matcher, error) {
	tol, err := decimal.NewFromString(tolerance)
	if err != nil {
		return nil, fmt.Errorf("amount-tolerance: %w", err)
	}
	w, err := time.ParseDuration(window)
	if err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}
	return correlation.NewMatcher(tol, w), nil
}

func readSources(o options, asset subunit.Asset) (ingest.Sources, error) {
	var src ingest.Sources
	for _, path := range o.etherscan {
		addr, err := ingest.WalletAddressFromFilename(filepath.Base(path))
		if err != nil {
			return src, err
		}
		var txs []ingest.WalletTransaction
		err = readFile(path, func(r io.Reader) (err error) {
			txs, err = ingest.ReadEtherscan(r, asset)
			return err
		})
		if err != nil {
			return src, err
		}
		src.AddWallet(addr, txs)
	}

	if o.coinbase != "" {
		err := readFile(o.coinbase, func(r io.Reader) error {
			act, err := ingest.ReadCoinbase(r, asset)
			src.AddExchange(act)
			return err
		})
		if err != nil {
			return src, err
		}
	}

	if o.coinbasePro != "" {
		var blocklist []string
		for _, id := range strings.Split(o.blocklist, ",") {
			if id = strings.TrimSpace(id); id != "" {
				blocklist = append(blocklist, id)
			}
		}
		err := readFile(o.coinbasePro, func(r io.Reader) error {
			act, err := ingest.ReadCoinbasePro(r, asset, blocklist)
			src.AddExchange(act)
			return err
		})
		if err != nil {
			return src, err
		}
	}
	return src, nil
}

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := read(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeOutput(path string, stdout io.Writer, rows []form8949.Row, write func(io.Writer, []form8949.Row) error) error {
	if path == "-" {
		return write(stdout, rows)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
