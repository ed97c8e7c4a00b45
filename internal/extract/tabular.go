package extract

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// Row is one taxpayer line pulled out of a list
type Row struct {
	TaxpayerID string
	EntityName string
	StatusText string
}

type format int

const (
	formatDelimited format = iota
	formatArchive
	formatXLSX
	formatXLS
	formatHTML
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

const (
	defaultMaxRows    = 40000
	maxMemberBytes    = 256 << 20
	maxCSVParseErrors = 100
)

// memberExts are the archive members worth parsing
var memberExts = []string{".xlsx", ".xls", ".csv", ".txt"}

// Extractor turns spreadsheet, delimited-text, archive and HTML-table payloads
// into taxpayer rows. It never returns an error: unreadable input yields no rows.
type Extractor struct {
	maxRows int
	logger  *slog.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithMaxRows caps the rows returned per Extract call
func WithMaxRows(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxRows = n
		}
	}
}

// WithLogger sets the logger used for skipped inputs
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Extractor
func New(opts ...Option) *Extractor {
	e := &Extractor{
		maxRows: defaultMaxRows,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses data; hint is the file name or URL it came from
func (e *Extractor) Extract(data []byte, hint string) (rows []Row) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("tabular parse panicked", "hint", hint, "panic", fmt.Sprint(r))
			rows = nil
		}
	}()

	rows = e.extract(data, hint, true)
	if len(rows) == 0 {
		e.logger.Info("no taxpayer rows extracted", "hint", hint, "bytes", len(data))
	}
	return rows
}

// Grid applies column detection to an already tabulated grid (e.g. an HTML table)
func (e *Extractor) Grid(grid [][]string) []Row {
	return rowsFromGrid(grid, e.maxRows)
}

func (e *Extractor) extract(data []byte, hint string, allowArchive bool) []Row {
	if len(data) == 0 {
		return nil
	}

	switch detectFormat(data, hint) {
	case formatArchive:
		if !allowArchive {
			return nil
		}
		return e.fromArchive(data, hint)
	case formatXLSX:
		return e.fromXLSX(data, hint)
	case formatXLS:
		return e.fromXLS(data, hint)
	case formatHTML:
		return e.fromHTML(data, hint)
	default:
		return e.fromDelimited(data, hint)
	}
}

func detectFormat(data []byte, hint string) format {
	ext := strings.ToLower(path.Ext(stripQuery(hint)))

	if bytes.HasPrefix(data, zipMagic) {
		if ext == ".xlsx" || isXLSXArchive(data) {
			return formatXLSX
		}
		return formatArchive
	}
	if bytes.HasPrefix(data, oleMagic) {
		return formatXLS
	}
	if ext == ".zip" {
		return formatArchive
	}
	if looksLikeHTML(data) {
		return formatHTML
	}
	return formatDelimited
}

func stripQuery(hint string) string {
	if i := strings.IndexAny(hint, "?#"); i >= 0 {
		return hint[:i]
	}
	return hint
}

func isXLSXArchive(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/") {
			return true
		}
	}
	return false
}

// looksLikeHTML catches ".xls" downloads that are really HTML tables
func looksLikeHTML(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<table"))
}

func (e *Extractor) fromArchive(data []byte, hint string) []Row {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		e.logger.Warn("open archive failed", "hint", hint, "error", err)
		return nil
	}

	var rows []Row
	for _, f := range zr.File {
		if e.maxRows > 0 && len(rows) >= e.maxRows {
			break
		}
		if f.FileInfo().IsDir() || !hasMemberExt(f.Name) {
			continue
		}
		member, err := readMember(f)
		if err != nil {
			e.logger.Warn("skip archive member", "hint", hint, "member", f.Name, "error", err)
			continue
		}
		memberRows := e.safeExtract(member, f.Name)
		rows = append(rows, memberRows...)
	}
	if e.maxRows > 0 && len(rows) > e.maxRows {
		rows = rows[:e.maxRows]
	}
	return rows
}

// safeExtract isolates one archive member so a panic in a parser skips only that member
func (e *Extractor) safeExtract(data []byte, name string) (rows []Row) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("skip corrupt archive member", "member", name, "panic", fmt.Sprint(r))
			rows = nil
		}
	}()
	return e.extract(data, name, false)
}

func hasMemberExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range memberExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func readMember(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxMemberBytes {
		return nil, fmt.Errorf("member too large: %d bytes", f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(io.LimitReader(rc, maxMemberBytes))
}

func (e *Extractor) fromXLSX(data []byte, hint string) []Row {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		e.logger.Warn("open xlsx failed", "hint", hint, "error", err)
		return nil
	}
	defer func() { _ = f.Close() }()

	var rows []Row
	for _, sheet := range f.GetSheetList() {
		remaining := e.remaining(len(rows))
		if remaining == 0 {
			break
		}
		grid, err := f.GetRows(sheet)
		if err != nil {
			e.logger.Warn("read sheet failed", "hint", hint, "sheet", sheet, "error", err)
			continue
		}
		rows = append(rows, rowsFromGrid(grid, remaining)...)
	}
	return rows
}

func (e *Extractor) fromXLS(data []byte, hint string) []Row {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		e.logger.Warn("open xls failed", "hint", hint, "error", err)
		return nil
	}

	var rows []Row
	for i := 0; i < wb.NumSheets(); i++ {
		remaining := e.remaining(len(rows))
		if remaining == 0 {
			break
		}
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		var grid [][]string
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			cells := make([]string, 0, row.LastCol())
			for c := 0; c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			grid = append(grid, cells)
		}
		rows = append(rows, rowsFromGrid(grid, remaining)...)
	}
	return rows
}

func (e *Extractor) fromHTML(data []byte, hint string) []Row {
	text, ok := DecodeText(data)
	if !ok {
		e.logger.Warn("undecodable html table", "hint", hint)
		return nil
	}
	doc, err := ParseHTML(text)
	if err != nil {
		return nil
	}

	var rows []Row
	for _, grid := range Tables(doc) {
		remaining := e.remaining(len(rows))
		if remaining == 0 {
			break
		}
		rows = append(rows, rowsFromGrid(grid, remaining)...)
	}
	return rows
}

func (e *Extractor) fromDelimited(data []byte, hint string) []Row {
	text, ok := DecodeText(data)
	if !ok {
		e.logger.Warn("undecodable text file", "hint", hint)
		return nil
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	// Headers can sit a few lines below a title block, so keep header rows
	// plus the capped data rows.
	budget := e.maxRows + headerScanRows
	var grid [][]string
	parseErrors := 0
	for len(grid) < budget {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			parseErrors++
			if parseErrors > maxCSVParseErrors {
				e.logger.Warn("too many malformed lines", "hint", hint)
				break
			}
			continue
		}
		grid = append(grid, record)
	}
	return rowsFromGrid(grid, e.maxRows)
}

func (e *Extractor) remaining(have int) int {
	if e.maxRows <= 0 {
		return -1
	}
	if have >= e.maxRows {
		return 0
	}
	return e.maxRows - have
}

// sniffDelimiter picks the separator that appears most in the first lines
func sniffDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 6)
	if len(lines) > 5 {
		lines = lines[:5]
	}
	best, bestCount := ',', 0
	for _, cand := range []rune{',', ';', '\t', '|'} {
		count := 0
		for _, line := range lines {
			count += strings.Count(line, string(cand))
		}
		if count > bestCount {
			best, bestCount = cand, count
		}
	}
	return best
}
