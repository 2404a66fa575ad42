package reporter

import (
	"context"
	"fmt"
	"path"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// Workbook names written for every run
const (
	WorkbookResults       = "resultados"
	WorkbookTrace         = "trazabilidad"
	WorkbookUnmatchedBook = "libro_no_conciliados"
	WorkbookUnmatchedBank = "banco_no_conciliados"
	WorkbookAlerts        = "alerta"
)

// Row fills of the results workbook
const (
	FillBook = "FFFF00"
	FillBank = "ADD8E6"
)

var resultHeaders = []interface{}{
	"Origen", "Cuenta Bancaria", "Cuenta", "Subcuenta", "Descripcion",
	"Fecha", "Referencia", "Tipo de tarjeta", "Tienda", "Lote",
	"Referencia 2", "Tipo", "Monto", "Monto2",
	"%comision", "%impuesto", "comision", "impuesto",
	"Monto_Ajustado", "Banco", "Estrategia", "Evento",
}

var pairHeaders = []interface{}{"Partida_Libro", "Partida_Banco", "Tipo_Conciliacion"}

var entryHeaders = []interface{}{
	"Referencia", "Cuenta Bancaria", "Descripcion", "Fecha", "Tipo", "Monto",
	"Tipo de tarjeta", "Tienda", "Lote", "Referencia 2",
	"%comision", "comision", "%impuesto", "impuesto", "Monto_Ajustado",
	"Cuenta", "Subcuenta", "Banco",
}

// XLSXExporter writes the run workbooks under <dir>/<run id>/
type XLSXExporter struct {
	fs     afero.Fs
	dir    string
	logger logger.Logger
}

// NewXLSXExporter creates an exporter writing to dir on fs
func NewXLSXExporter(fs afero.Fs, dir string, log logger.Logger) *XLSXExporter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if dir == "" {
		dir = "."
	}
	return &XLSXExporter{
		fs:     fs,
		dir:    dir,
		logger: log.WithComponent("exporter"),
	}
}

// Fs returns the filesystem the workbooks are written to
func (x *XLSXExporter) Fs() afero.Fs {
	return x.fs
}

// Export writes every workbook of result and returns their paths
func (x *XLSXExporter) Export(ctx context.Context, result *reconciler.Result) ([]string, error) {
	if result == nil || result.Matching == nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "export", fmt.Errorf("result has no matching output"))
	}

	runDir := path.Join(x.dir, result.RunID)
	if err := x.fs.MkdirAll(runDir, 0o755); err != nil {
		return nil, errors.StorageError(errors.CodePersistFailed, runDir, err)
	}

	m := result.Matching
	builders := []struct {
		name  string
		build func() (*excelize.File, error)
	}{
		{WorkbookResults, func() (*excelize.File, error) { return buildResultsWorkbook(m.MatchRecords) }},
		{WorkbookTrace, func() (*excelize.File, error) { return buildTraceWorkbook(models.DedupeTrace(m.Trace)) }},
		{WorkbookUnmatchedBook, func() (*excelize.File, error) { return buildEntryWorkbook(WorkbookUnmatchedBook, m.UnmatchedBook) }},
		{WorkbookUnmatchedBank, func() (*excelize.File, error) { return buildEntryWorkbook(WorkbookUnmatchedBank, m.UnmatchedBank) }},
		{WorkbookAlerts, func() (*excelize.File, error) { return buildAlertWorkbook(m.Alerts) }},
	}

	paths := make([]string, 0, len(builders))
	for _, b := range builders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wb, err := b.build()
		if err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "building "+b.name, err)
		}

		p := path.Join(runDir, b.name+".xlsx")
		if err := x.write(wb, p); err != nil {
			return nil, errors.StorageError(errors.CodePersistFailed, p, err)
		}
		paths = append(paths, p)
	}

	x.logger.WithFields(logger.Fields{
		"run_id": result.RunID,
		"dir":    runDir,
		"files":  len(paths),
	}).Info("Workbooks exported")

	return paths, nil
}

func (x *XLSXExporter) write(wb *excelize.File, p string) error {
	defer wb.Close()

	f, err := x.fs.Create(p)
	if err != nil {
		return err
	}
	if _, err := wb.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// newWorkbook returns a workbook whose only sheet is named sheet and holds headers
func newWorkbook(sheet string, headers []interface{}) (*excelize.File, error) {
	wb := excelize.NewFile()
	if err := wb.SetSheetName("Sheet1", sheet); err != nil {
		return discard(wb, err)
	}
	if err := wb.SetSheetRow(sheet, "A1", &headers); err != nil {
		return discard(wb, err)
	}
	return wb, nil
}

// discard closes a partly built workbook and returns err
func discard(wb *excelize.File, err error) (*excelize.File, error) {
	_ = wb.Close()
	return nil, err
}

func fillStyle(wb *excelize.File, color string) (int, error) {
	return wb.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
	})
}

func buildResultsWorkbook(records []models.MatchRecord) (*excelize.File, error) {
	wb, err := newWorkbook(WorkbookResults, resultHeaders)
	if err != nil {
		return nil, err
	}

	bookStyle, err := fillStyle(wb, FillBook)
	if err != nil {
		return discard(wb, err)
	}
	bankStyle, err := fillStyle(wb, FillBank)
	if err != nil {
		return discard(wb, err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(resultHeaders))
	if err != nil {
		return discard(wb, err)
	}

	for i, r := range records {
		row := i + 2
		values := []interface{}{
			r.Origin.String(), r.Account, r.LedgerAccount, r.SubAccount, r.Description,
			r.Date.Format("2006-01-02"), r.Reference, r.CardType, r.Store, r.Batch,
			r.ReferenceKey, r.TypeTag, number(r.Amount), number(r.DisplayAmount),
			r.CommissionPercent, r.TaxPercent, number(r.Commission), number(r.Tax),
			number(r.AdjustedAmount), r.BankName, string(r.Strategy), r.EventID,
		}
		if err := wb.SetSheetRow(WorkbookResults, fmt.Sprintf("A%d", row), &values); err != nil {
			return discard(wb, err)
		}

		style := bankStyle
		if r.Origin == models.OriginBook {
			style = bookStyle
		}
		if err := wb.SetCellStyle(WorkbookResults, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", lastCol, row), style); err != nil {
			return discard(wb, err)
		}
	}
	return wb, nil
}

func buildTraceWorkbook(trace []models.TraceEntry) (*excelize.File, error) {
	wb, err := newWorkbook(WorkbookTrace, pairHeaders)
	if err != nil {
		return nil, err
	}
	for i, t := range trace {
		values := []interface{}{t.BookReference, t.BankReference, string(t.Strategy)}
		if err := wb.SetSheetRow(WorkbookTrace, fmt.Sprintf("A%d", i+2), &values); err != nil {
			return discard(wb, err)
		}
	}
	return wb, nil
}

func buildAlertWorkbook(alerts []models.AlertEntry) (*excelize.File, error) {
	wb, err := newWorkbook(WorkbookAlerts, pairHeaders)
	if err != nil {
		return nil, err
	}
	for i, a := range alerts {
		values := []interface{}{a.BookReference, a.BankReferences, a.Reason}
		if err := wb.SetSheetRow(WorkbookAlerts, fmt.Sprintf("A%d", i+2), &values); err != nil {
			return discard(wb, err)
		}
	}
	return wb, nil
}

func buildEntryWorkbook(sheet string, entries []*models.Entry) (*excelize.File, error) {
	wb, err := newWorkbook(sheet, entryHeaders)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		values := []interface{}{
			e.Reference, e.Account, e.Description, e.Date.Format("2006-01-02"), e.Type, number(e.Amount),
			e.CardType, e.Store, e.Batch, e.ReferenceKey,
			e.CommissionPercent, number(e.Commission), e.TaxPercent, number(e.Tax), number(e.AdjustedAmount),
			e.LedgerAccount, e.SubAccount, e.BankName,
		}
		if err := wb.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &values); err != nil {
			return discard(wb, err)
		}
	}
	return wb, nil
}

// number converts an amount to a numeric cell value
func number(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
