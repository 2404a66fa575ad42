// Command generators writes book ledger and bank statement fixtures, one
// directory per scenario, each with an expected.json describing the outcome
// the reconciler must produce. The validators command checks them.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

var (
	bookHeader = []string{"Numero de Transacción", "Proveedor", "Fecha Contable", "Monto", "Tipo", "Cuenta Bancaria"}
	bankHeader = []string{"Referencia", "Descripción", "Fecha Efectiva", "Monto", "Tipo", "Cuenta Bancaria", "Cuenta Contable", "Sub Cuenta", "Banco"}

	baseDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

const (
	plainAccount = "0102-0001-00-2"
	feeAccount   = "0102-1682-00-1"
	maxBulkSize  = 700
)

// Expected is the outcome recorded next to each scenario
type Expected struct {
	Book        int               `json:"book"`
	Bank        int               `json:"bank"`
	RawBank     int               `json:"raw_bank"`
	MatchedBook int               `json:"matched_book"`
	MatchedBank int               `json:"matched_bank"`
	Alerts      int               `json:"alerts"`
	Criteria    map[string][2]int `json:"criteria"`
}

// Scenario is one pair of exports plus its expected outcome
type Scenario struct {
	Name     string
	Book     [][]string
	Bank     [][]string
	Expected Expected
}

func (s *Scenario) book(ref string, amount string, day int, account string) {
	s.Book = append(s.Book, []string{ref, "Proveedor " + ref, date(day), amount, "Débito", account})
}

func (s *Scenario) bank(ref string, amount string, day int, account string) {
	s.Bank = append(s.Bank, []string{ref, "AB.LOTE " + ref, date(day), amount, "Credito", account, "110201", "0001", "BANCO FONDO COMUN"})
}

// noise adds a bank row the settlement filter must drop
func (s *Scenario) noise(day int) {
	s.Bank = append(s.Bank, []string{"COM" + date(day), "COMISION MENSUAL", date(day), "3.00", "Debito", plainAccount, "110201", "0001", "BANCO FONDO COMUN"})
}

func date(day int) string {
	return baseDate.AddDate(0, 0, day).Format("2006-01-02")
}

func main() {
	var (
		outputDir = flag.String("output-dir", "generated_scenarios", "output directory for scenario files")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed for the bulk scenario")
		size      = flag.Int("size", 200, "direct pairs in the bulk scenario (at most 700)")
		only      = flag.String("scenario", "all", "scenario to generate, or all")
	)
	flag.Parse()

	if *size < 10 || *size > maxBulkSize {
		log.Fatalf("size must be between 10 and %d", maxBulkSize)
	}

	rng := rand.New(rand.NewSource(*seed))
	scenarios := []*Scenario{
		directScenario(),
		multipleBankScenario(),
		multipleBookScenario(),
		similarReferenceScenario(),
		alertScenario(),
		feeScenario(),
		bulkScenario(rng, *size),
	}

	written := 0
	for _, s := range scenarios {
		if *only != "all" && *only != s.Name {
			continue
		}
		if err := write(*outputDir, s); err != nil {
			log.Fatalf("Failed to write scenario %s: %v", s.Name, err)
		}
		fmt.Printf("%-20s book=%d bank=%d\n", s.Name, s.Expected.Book, s.Expected.Bank)
		written++
	}
	if written == 0 {
		log.Fatalf("Unknown scenario: %s", *only)
	}

	fmt.Printf("Generated %d scenarios in %s (seed %d)\n", written, *outputDir, *seed)
}

func directScenario() *Scenario {
	s := &Scenario{Name: "direct"}
	s.book("V123000456", "50.00", 0, plainAccount)
	s.bank("V123000456", "50.00", 2, plainAccount)
	s.book("V124000457", "80.00", 1, plainAccount)
	s.bank("V124000457", "80.03", 6, plainAccount)
	// outside the date window: never matched
	s.book("V125000458", "20.00", 0, plainAccount)
	s.bank("V125000458", "20.00", 9, plainAccount)
	s.noise(3)

	s.Expected = Expected{
		Book: 3, Bank: 3, RawBank: 4,
		MatchedBook: 2, MatchedBank: 2,
		Criteria: criteria([2]int{2, 2}, [2]int{}, [2]int{}, [2]int{}),
	}
	return s
}

func multipleBankScenario() *Scenario {
	s := &Scenario{Name: "multiple_bank"}
	s.book("V555000111", "300.00", 0, plainAccount)
	s.bank("V555000111", "120.00", 3, plainAccount)
	s.bank("V555000111", "200.00", 4, plainAccount)
	s.bank("V555000111", "100.02", 12, plainAccount)

	s.Expected = Expected{
		Book: 1, Bank: 3, RawBank: 3,
		MatchedBook: 1, MatchedBank: 2,
		Criteria: criteria([2]int{}, [2]int{1, 2}, [2]int{}, [2]int{}),
	}
	return s
}

func multipleBookScenario() *Scenario {
	s := &Scenario{Name: "multiple_book"}
	s.book("V777000999", "100.00", 0, plainAccount)
	s.book("V777000999", "50.00", 1, plainAccount)
	s.bank("V777000999", "150.00", 2, plainAccount)

	s.Expected = Expected{
		Book: 2, Bank: 1, RawBank: 1,
		MatchedBook: 2, MatchedBank: 1,
		Criteria: criteria([2]int{}, [2]int{}, [2]int{2, 1}, [2]int{}),
	}
	return s
}

func similarReferenceScenario() *Scenario {
	s := &Scenario{Name: "similar_reference"}
	s.book("V321000654", "75.00", 0, plainAccount)
	s.bank("V321000659", "75.00", 4, plainAccount)
	// three batch positions differ: no relation
	s.book("V322000111", "33.00", 0, plainAccount)
	s.bank("V322000999", "33.00", 1, plainAccount)

	s.Expected = Expected{
		Book: 2, Bank: 2, RawBank: 2,
		MatchedBook: 1, MatchedBank: 1,
		Criteria: criteria([2]int{}, [2]int{}, [2]int{}, [2]int{1, 1}),
	}
	return s
}

func alertScenario() *Scenario {
	s := &Scenario{Name: "alerts"}
	s.book("V400000456", "64.00", 0, plainAccount)
	s.bank("V401000456", "64.00", 2, plainAccount)
	// compatible but outside the alert window
	s.book("V410000456", "91.00", 0, plainAccount)
	s.bank("V411000456", "91.00", 5, plainAccount)

	s.Expected = Expected{
		Book: 2, Bank: 2, RawBank: 2,
		Alerts:   1,
		Criteria: criteria([2]int{}, [2]int{}, [2]int{}, [2]int{}),
	}
	return s
}

// feeScenario pairs a fee-bearing book entry with the bank settlement of the
// same payment: -100.00 * 1.001 * 1.0431 and 100.10 * 1.0431 both round to 104.41
func feeScenario() *Scenario {
	s := &Scenario{Name: "fees"}
	s.book("1C123000045X", "100.00", 0, feeAccount)
	s.bank("1C123000045X", "100.10", 1, feeAccount)

	s.Expected = Expected{
		Book: 1, Bank: 1, RawBank: 1,
		MatchedBook: 1, MatchedBank: 1,
		Criteria: criteria([2]int{1, 1}, [2]int{}, [2]int{}, [2]int{}),
	}
	return s
}

// bulkScenario builds n direct pairs with amount noise below the tolerance,
// n/10 settlements split across two bank rows and n/10 orphans per side.
// Store codes are disjoint per group so no pass can cross-match.
func bulkScenario(rng *rand.Rand, n int) *Scenario {
	s := &Scenario{Name: "bulk"}

	for i := 0; i < n; i++ {
		ref := fmt.Sprintf("A%03d00%03d", i, i)
		amount := decimal.NewFromInt(int64(10 + rng.Intn(5000))).Add(decimal.New(int64(rng.Intn(100)), -2))
		jitter := decimal.New(int64(rng.Intn(5)), -2)
		day := rng.Intn(25)
		s.book(ref, amount.StringFixed(2), day, plainAccount)
		s.bank(ref, amount.Add(jitter).StringFixed(2), day+rng.Intn(4), plainAccount)
	}

	splits := n / 10
	for i := 0; i < splits; i++ {
		ref := fmt.Sprintf("B9%02d11%03d", i, i)
		first := decimal.NewFromInt(int64(50 + rng.Intn(500)))
		second := decimal.NewFromInt(int64(50 + rng.Intn(500)))
		s.book(ref, first.Add(second).StringFixed(2), 0, plainAccount)
		s.bank(ref, first.StringFixed(2), 20, plainAccount)
		s.bank(ref, second.StringFixed(2), 21, plainAccount)
	}

	for i := 0; i < splits; i++ {
		s.book(fmt.Sprintf("C8%02d22%03d", i, i), "1.11", 0, plainAccount)
		s.bank(fmt.Sprintf("F7%02d33%03d", i, 999-i), "7777.77", 28, plainAccount)
		s.noise(i % 28)
	}

	// bank rows arrive in no particular order
	rng.Shuffle(len(s.Bank), func(i, j int) { s.Bank[i], s.Bank[j] = s.Bank[j], s.Bank[i] })

	s.Expected = Expected{
		Book:        n + 2*splits,
		Bank:        n + 3*splits,
		RawBank:     n + 4*splits,
		MatchedBook: n + splits,
		MatchedBank: n + 2*splits,
		Criteria:    criteria([2]int{n, n}, [2]int{splits, 2 * splits}, [2]int{}, [2]int{}),
	}
	return s
}

// criteria builds the expected per-criterion counts; Criterio 2 is always zero
func criteria(c1, c3, c4, c5 [2]int) map[string][2]int {
	return map[string][2]int{
		"Criterio 1": c1,
		"Criterio 2": {0, 0},
		"Criterio 3": c3,
		"Criterio 4": c4,
		"Criterio 5": c5,
	}
}

func write(root string, s *Scenario) error {
	dir := filepath.Join(root, s.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// the accounting export starts with a report preamble above the headers
	book := [][]string{{"Reporte de pagos"}, {"Generado " + baseDate.Format("2006-01-02")}, {}, bookHeader}
	if err := writeCSV(filepath.Join(dir, "libro.csv"), append(book, s.Book...)); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, "banco.csv"), append([][]string{bankHeader}, s.Bank...)); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.Expected, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "expected.json"), data, 0o644)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Sync()
}
