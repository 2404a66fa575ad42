package reconciler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger-reconciliation-service/internal/enrichment"
	"ledger-reconciliation-service/internal/matcher"
	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/parsers"
	apperrors "ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

const testBookCSV = `Reporte de pagos,,,,,
,,,,,
Numero de Transacción,Proveedor,Fecha Contable,Monto,Tipo,Cuenta Bancaria
A123000456,Proveedor Uno,2024-03-10,50.00,Débito,0102-0001
B555000111,Proveedor Dos,2024-03-11,300.00,Débito,0102-0001
C777000999,Proveedor Tres,2024-03-12,10.00,Débito,0102-0001
`

const testBankCSV = `Referencia,Descripción,Fecha Efectiva,Monto,Tipo,Cuenta Bancaria,Cuenta Contable,Sub Cuenta,Banco
A123000456,AB.LOTE 0001,2024-03-12,50.00,Credito,0102-0001,110201,0001,BANCO FONDO COMUN
X000000000,COMISION MENSUAL,2024-03-12,3.00,Debito,0102-0001,110201,0001,BANCO FONDO COMUN
B555000111,LIQUIDACION TDC,2024-03-13,200.00,Credito,0102-0001,110202,0002,BANCAMIGA POS EXTERNO
B555000111,LIQUIDACION TDC,2024-03-20,100.00,Credito,0102-0001,110202,0002,BANCAMIGA POS EXTERNO
F888000222,AB.LOTE 0002,2024-03-14,99.00,Credito,0102-0001,110201,0001,BANCO FONDO COMUN
`

// createTestDataFiles writes the book and bank fixtures to a temp dir
func createTestDataFiles(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	bookFile := filepath.Join(dir, "libro.csv")
	if err := os.WriteFile(bookFile, []byte(testBookCSV), 0644); err != nil {
		t.Fatalf("Failed to write book file: %v", err)
	}
	bankFile := filepath.Join(dir, "banco.csv")
	if err := os.WriteFile(bankFile, []byte(testBankCSV), 0644); err != nil {
		t.Fatalf("Failed to write bank file: %v", err)
	}
	return bookFile, bankFile
}

var fileOpener = parsers.OpenerFunc(func(_ context.Context, uri string) (io.ReadCloser, error) {
	return os.Open(uri)
})

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(DefaultConfig(), fileOpener, logger.Discard())
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return service
}

func TestService_Run(t *testing.T) {
	bookFile, bankFile := createTestDataFiles(t)
	service := newTestService(t)

	result, err := service.Run(context.Background(), &Request{
		BookURI: bookFile,
		BankURI: bankFile,
		Month:   3,
		Year:    2024,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.RunID == "" {
		t.Error("expected a generated run id")
	}

	s := result.Summary
	checks := []struct {
		name      string
		got, want int
	}{
		{"total book", s.TotalBook, 3},
		{"total bank", s.TotalBank, 4},
		{"raw bank", s.RawBankTotal, 5},
		{"matched book", s.MatchedBook, 2},
		{"matched bank", s.MatchedBank, 3},
		{"unmatched book", s.UnmatchedBook, 1},
		{"unmatched bank", s.UnmatchedBank, 1},
		{"events", s.Events, 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}

	if !s.TotalBookAmount.Equal(decimal.NewFromInt(360)) {
		t.Errorf("total book amount = %s, want 360", s.TotalBookAmount)
	}
	if !s.MatchedAmount.Equal(decimal.NewFromInt(350)) {
		t.Errorf("matched amount = %s, want 350", s.MatchedAmount)
	}

	if s.MatchedByBank["BANCO FONDO COMUN"] != 1 || s.MatchedByBank["BANCAMIGA POS EXTERNO"] != 2 {
		t.Errorf("unexpected per-bank counts: %v", s.MatchedByBank)
	}

	if result.Matching.UnmatchedBook[0].Reference != "C777000999" {
		t.Errorf("expected C777000999 unmatched, got %s", result.Matching.UnmatchedBook[0].Reference)
	}
	if result.Matching.UnmatchedBank[0].Reference != "F888000222" {
		t.Errorf("expected F888000222 unmatched, got %s", result.Matching.UnmatchedBank[0].Reference)
	}

	if result.BankStats.FilteredOut != 1 {
		t.Errorf("expected one filtered bank row, got %d", result.BankStats.FilteredOut)
	}
}

func TestService_RunCriteria(t *testing.T) {
	bookFile, bankFile := createTestDataFiles(t)
	service := newTestService(t)

	result, err := service.Run(context.Background(), &Request{BookURI: bookFile, BankURI: bankFile})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := map[models.Criterion]struct {
		book, bank             int
		bookPercent, bankPercent string
	}{
		models.Criterion1: {1, 1, "50", "33.33"},
		models.Criterion2: {0, 0, "0", "0"},
		models.Criterion3: {1, 2, "50", "66.67"},
		models.Criterion4: {0, 0, "0", "0"},
		models.Criterion5: {0, 0, "0", "0"},
	}

	if len(result.Summary.Criteria) != len(models.Criteria) {
		t.Fatalf("expected %d criteria, got %d", len(models.Criteria), len(result.Summary.Criteria))
	}
	for i, stat := range result.Summary.Criteria {
		if stat.Criterion != models.Criteria[i] {
			t.Errorf("criterion %d = %s, want %s", i, stat.Criterion, models.Criteria[i])
		}
		w := want[stat.Criterion]
		if stat.Book != w.book || stat.Bank != w.bank {
			t.Errorf("%s counts = %d/%d, want %d/%d", stat.Criterion, stat.Book, stat.Bank, w.book, w.bank)
		}
		if !stat.BookPercent.Equal(decimal.RequireFromString(w.bookPercent)) {
			t.Errorf("%s book percent = %s, want %s", stat.Criterion, stat.BookPercent, w.bookPercent)
		}
		if !stat.BankPercent.Equal(decimal.RequireFromString(w.bankPercent)) {
			t.Errorf("%s bank percent = %s, want %s", stat.Criterion, stat.BankPercent, w.bankPercent)
		}
	}
}

func TestService_ProgressCallbacks(t *testing.T) {
	bookFile, bankFile := createTestDataFiles(t)
	service := newTestService(t)

	var steps []string
	var last Progress
	service.AddProgressCallback(func(p *Progress) {
		steps = append(steps, p.CurrentStep)
		last = *p
	})

	if _, err := service.Run(context.Background(), &Request{BookURI: bookFile, BankURI: bankFile}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"Loading inputs", "Enriching entries", "Matching", "Summarizing", "Completed"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, steps[i], want[i])
		}
	}
	if last.PercentComplete != 100 {
		t.Errorf("final progress = %.1f%%, want 100%%", last.PercentComplete)
	}
}

func TestService_ErrorHandling(t *testing.T) {
	bookFile, bankFile := createTestDataFiles(t)
	service := newTestService(t)

	tests := []struct {
		name     string
		request  *Request
		category apperrors.ErrorCategory
		code     apperrors.ErrorCode
	}{
		{
			name:     "missing bank location",
			request:  &Request{BookURI: bookFile},
			category: apperrors.CategoryInput,
			code:     apperrors.CodeInvalidRequest,
		},
		{
			name:     "invalid month",
			request:  &Request{BookURI: bookFile, BankURI: bankFile, Month: 13, Year: 2024},
			category: apperrors.CategoryInput,
			code:     apperrors.CodeInvalidRequest,
		},
		{
			name:     "book file does not exist",
			request:  &Request{BookURI: filepath.Join(t.TempDir(), "missing.csv"), BankURI: bankFile},
			category: apperrors.CategoryInput,
			code:     apperrors.CodeFileNotFound,
		},
		{
			name:     "bank statement given as book ledger",
			request:  &Request{BookURI: bankFile, BankURI: bankFile},
			category: apperrors.CategoryInput,
			code:     apperrors.CodeMissingColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Run(context.Background(), tt.request)
			if err == nil {
				t.Fatal("expected an error")
			}
			re, ok := apperrors.AsReconcilerError(err)
			if !ok {
				t.Fatalf("expected a ReconcilerError, got %T: %v", err, err)
			}
			if re.Category != tt.category || re.Code != tt.code {
				t.Errorf("got %s/%s, want %s/%s", re.Category, re.Code, tt.category, tt.code)
			}
		})
	}
}

func TestService_ReconcileEntries(t *testing.T) {
	service := newTestService(t)
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	book := []*models.Entry{
		models.NewBookEntry("A123000456", decimal.NewFromInt(-75), date, "01020001", "Proveedor"),
	}
	bank := []*models.Entry{
		models.NewBankEntry("A123000456", decimal.NewFromInt(75), date.AddDate(0, 0, 1), "01020001", "AB.LOTE"),
	}

	result, err := service.ReconcileEntries(book, bank, 4)
	if err != nil {
		t.Fatalf("ReconcileEntries failed: %v", err)
	}
	if result.Summary.MatchedBook != 1 || result.Summary.MatchedBank != 1 {
		t.Errorf("expected one pair, got %s", result.Summary)
	}
	if result.Summary.RawBankTotal != 4 {
		t.Errorf("raw bank total = %d, want 4", result.Summary.RawBankTotal)
	}
	if book[0].ReferenceKey != "123456" {
		t.Errorf("expected entries to be enriched, key = %q", book[0].ReferenceKey)
	}
}

func TestService_UpdateConfiguration(t *testing.T) {
	service := newTestService(t)

	bad := matcher.DefaultMatchingConfig()
	bad.DateWindowDays = -1
	if err := service.UpdateConfiguration(enrichment.DefaultFeeSchedule(), bad); err == nil {
		t.Error("expected an error for a negative date window")
	}

	relaxed := matcher.RelaxedMatchingConfig()
	if err := service.UpdateConfiguration(enrichment.DefaultFeeSchedule(), relaxed); err != nil {
		t.Fatalf("UpdateConfiguration failed: %v", err)
	}
	if got := service.GetConfiguration().Matching.DateWindowDays; got != relaxed.DateWindowDays {
		t.Errorf("date window = %d, want %d", got, relaxed.DateWindowDays)
	}

	relaxed.DateWindowDays = 30
	if service.GetConfiguration().Matching.DateWindowDays == 30 {
		t.Error("service should keep its own copy of the matching config")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"nil parsing", func(c *Config) { c.Parsing = nil }, true},
		{"nil matching", func(c *Config) { c.Matching = nil }, true},
		{"negative workers", func(c *Config) { c.Workers = -2 }, true},
		{"negative tax", func(c *Config) { c.Fees.TaxRate = decimal.NewFromInt(-1) }, true},
		{"bad tolerance", func(c *Config) { c.Matching.AmountTolerance = decimal.NewFromInt(-1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Workers = -1
	if _, err := NewService(cfg, fileOpener, logger.Discard()); !apperrors.IsCategory(err, apperrors.CategoryConfiguration) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		request Request
		wantErr string
	}{
		{"period unset", Request{BookURI: "libro.csv", BankURI: "banco.csv"}, ""},
		{"full period", Request{BookURI: "libro.csv", BankURI: "banco.csv", Month: 12, Year: 2024}, ""},
		{"month too large", Request{BookURI: "libro.csv", BankURI: "banco.csv", Month: 13}, "month must be between 0 (unset) and 12, got 13"},
		{"negative month", Request{BookURI: "libro.csv", BankURI: "banco.csv", Month: -1}, "month must be between 0 (unset) and 12, got -1"},
		{"negative year", Request{BookURI: "libro.csv", BankURI: "banco.csv", Year: -1}, "year cannot be negative, got -1"},
		{"missing book", Request{BankURI: "banco.csv"}, "book ledger location is required"},
		{"missing bank", Request{BookURI: "libro.csv"}, "bank statement location is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRequest_Period(t *testing.T) {
	tests := []struct {
		month, year int
		want        string
	}{
		{3, 2024, "2024-03"},
		{12, 2023, "2023-12"},
		{0, 2024, ""},
		{3, 0, ""},
	}
	for _, tt := range tests {
		r := &Request{Month: tt.month, Year: tt.year}
		if got := r.Period(); got != tt.want {
			t.Errorf("Period(%d, %d) = %q, want %q", tt.month, tt.year, got, tt.want)
		}
	}
}

func TestSummarize_NothingMatched(t *testing.T) {
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	book := []*models.Entry{
		models.NewBookEntry("A123000456", decimal.NewFromInt(-10), date, "01020001", "Proveedor"),
	}

	result, err := matcher.NewMatchingEngine(nil, logger.Discard()).Reconcile(book, nil)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	s := Summarize(book, 0, result)
	for _, stat := range s.Criteria {
		if !stat.BookPercent.IsZero() || !stat.BankPercent.IsZero() {
			t.Errorf("%s percentages should be zero, got %s/%s", stat.Criterion, stat.BookPercent, stat.BankPercent)
		}
	}
	if !s.MatchRate().IsZero() {
		t.Errorf("match rate = %s, want 0", s.MatchRate())
	}
	if !s.TotalBookAmount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("total book amount = %s, want 10", s.TotalBookAmount)
	}
	if len(s.Banks()) != 0 {
		t.Errorf("expected no banks, got %v", s.Banks())
	}
}
