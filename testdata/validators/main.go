// Command validators runs the reconciler over every scenario written by the
// generators command and compares the outcome with its expected.json.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/storage"
	"ledger-reconciliation-service/pkg/logger"
)

// Expected mirrors the file the generators command writes
type Expected struct {
	Book        int               `json:"book"`
	Bank        int               `json:"bank"`
	RawBank     int               `json:"raw_bank"`
	MatchedBook int               `json:"matched_book"`
	MatchedBank int               `json:"matched_bank"`
	Alerts      int               `json:"alerts"`
	Criteria    map[string][2]int `json:"criteria"`
}

func main() {
	var (
		scenarioDir = flag.String("scenario-dir", "generated_scenarios", "directory holding one sub-directory per scenario")
		verbose     = flag.Bool("verbose", false, "log reconciliation progress")
	)
	flag.Parse()

	log := logger.Discard()
	if *verbose {
		l, err := logger.NewLogger(logger.DefaultConfig())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		log = l
	}

	dirs, err := scenarioDirs(*scenarioDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list scenarios: %v\n", err)
		os.Exit(1)
	}
	if len(dirs) == 0 {
		fmt.Fprintf(os.Stderr, "No scenarios found in %s\n", *scenarioDir)
		os.Exit(1)
	}

	service, err := reconciler.NewService(reconciler.DefaultConfig(), storage.NewFetcher(log), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create reconciler: %v\n", err)
		os.Exit(1)
	}

	failed := 0
	for _, dir := range dirs {
		problems, err := validate(context.Background(), service, dir)
		name := filepath.Base(dir)
		switch {
		case err != nil:
			fmt.Printf("FAIL %-20s %v\n", name, err)
			failed++
		case len(problems) > 0:
			fmt.Printf("FAIL %s\n", name)
			for _, p := range problems {
				fmt.Printf("     %s\n", p)
			}
			failed++
		default:
			fmt.Printf("ok   %s\n", name)
		}
	}

	fmt.Printf("\n%d scenarios, %d failed\n", len(dirs), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func scenarioDirs(root string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*", "expected.json"))
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(matches))
	for _, m := range matches {
		dirs = append(dirs, filepath.Dir(m))
	}
	sort.Strings(dirs)
	return dirs, nil
}

func validate(ctx context.Context, service *reconciler.Service, dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "expected.json"))
	if err != nil {
		return nil, err
	}
	var want Expected
	if err := json.Unmarshal(data, &want); err != nil {
		return nil, fmt.Errorf("invalid expected.json: %w", err)
	}

	result, err := service.Run(ctx, &reconciler.Request{
		BookURI: filepath.Join(dir, "libro.csv"),
		BankURI: filepath.Join(dir, "banco.csv"),
	})
	if err != nil {
		return nil, err
	}

	var problems []string
	check := func(field string, got, expected int) {
		if got != expected {
			problems = append(problems, fmt.Sprintf("%s: got %d, want %d", field, got, expected))
		}
	}

	s := result.Summary
	check("book entries", s.TotalBook, want.Book)
	check("bank entries", s.TotalBank, want.Bank)
	check("raw bank rows", s.RawBankTotal, want.RawBank)
	check("matched book", s.MatchedBook, want.MatchedBook)
	check("matched bank", s.MatchedBank, want.MatchedBank)
	check("alerts", s.Alerts, want.Alerts)
	check("unmatched book", s.UnmatchedBook, want.Book-want.MatchedBook)
	check("unmatched bank", s.UnmatchedBank, want.Bank-want.MatchedBank)

	got := make(map[string][2]int, len(s.Criteria))
	for _, c := range s.Criteria {
		got[string(c.Criterion)] = [2]int{c.Book, c.Bank}
	}
	names := make([]string, 0, len(want.Criteria))
	for name := range want.Criteria {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check(name+" book", got[name][0], want.Criteria[name][0])
		check(name+" bank", got[name][1], want.Criteria[name][1])
	}

	return problems, nil
}
