package parsers

import (
	"context"
	"io"

	"github.com/sourcegraph/conc/pool"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// Opener resolves an input location to a readable stream
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, uri string) (io.ReadCloser, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	return f(ctx, uri)
}

// Dataset holds both parsed sides of one reconciliation run
type Dataset struct {
	Book      []*models.Entry
	Bank      []*models.Entry
	BookStats *ParseStats
	BankStats *ParseStats
}

// Loader fetches and parses the book ledger and bank statement concurrently
type Loader struct {
	book   *BookParser
	bank   *BankParser
	opener Opener
	logger logger.Logger
}

// NewLoader creates a loader reading inputs through opener
func NewLoader(config *ParserConfig, opener Opener, log logger.Logger) (*Loader, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	book, err := NewBookParser(config, log)
	if err != nil {
		return nil, err
	}
	bank, err := NewBankParser(config, log)
	if err != nil {
		return nil, err
	}

	return &Loader{
		book:   book,
		bank:   bank,
		opener: opener,
		logger: log.WithComponent("loader"),
	}, nil
}

// Load opens and parses both inputs. The first failure cancels the other side.
func (l *Loader) Load(ctx context.Context, bookURI, bankURI string) (*Dataset, error) {
	ds := &Dataset{}

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		entries, stats, err := l.parse(ctx, bookURI, l.book.Parse)
		ds.Book, ds.BookStats = entries, stats
		return err
	})
	p.Go(func(ctx context.Context) error {
		entries, stats, err := l.parse(ctx, bankURI, l.bank.Parse)
		ds.Bank, ds.BankStats = entries, stats
		return err
	})

	if err := p.Wait(); err != nil {
		return nil, err
	}

	l.logger.WithFields(logger.Fields{
		"book_entries": len(ds.Book),
		"bank_entries": len(ds.Bank),
		"bank_raw":     ds.BankStats.RawRows,
	}).Info("Inputs loaded")

	return ds, nil
}

type parseFunc func(source string, r io.Reader) ([]*models.Entry, *ParseStats, error)

func (l *Loader) parse(ctx context.Context, uri string, fn parseFunc) ([]*models.Entry, *ParseStats, error) {
	rc, err := l.opener.Open(ctx, uri)
	if err != nil {
		l.logger.WithError(err).WithField("uri", uri).Error("Failed to open input")
		return nil, nil, errors.WrapIfNeeded(err, errors.CategoryInput, errors.CodeFileNotFound, "failed to open "+uri)
	}
	defer rc.Close()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return fn(uri, rc)
}
