package extract

import (
	"strings"

	"github.com/ppiankov/vigia/internal/util"
)

// Header vocabularies, compared after accent folding and upper-casing
var (
	idHeadersExact = []string{"RFC", "R.F.C.", "RFC CONTRIBUYENTE", "RFC_CONTRIBUYENTE", "CLAVE RFC", "RFC DEL CONTRIBUYENTE"}
	nameHeaders    = []string{"RAZON", "NOMBRE", "DENOMINACION"}
	statusHeaders  = []string{"SITUACION", "ESTATUS", "STATUS", "SUPUESTO"}
)

const (
	headerScanRows  = 10
	sampleSize      = 20
	sampleThreshold = 0.4
	sampleScanRows  = 500

	looseHeaderMaxLen = 40
)

// columns holds detected column positions; -1 means absent
type columns struct {
	id     int
	name   int
	status int
	header int // index of the header row, -1 when detected by sampling only
}

func normalizeHeader(s string) string {
	return strings.ToUpper(util.CollapseSpace(util.Fold(s)))
}

// matchHeaderRow scores one row against the vocabularies. With loose set, an
// id header that merely contains the RFC token is accepted when no cell
// matches exactly.
func matchHeaderRow(row []string, loose bool) columns {
	cols := columns{id: -1, name: -1, status: -1, header: -1}
	for i, cell := range row {
		h := normalizeHeader(cell)
		if h == "" {
			continue
		}
		if cols.id < 0 && isExactIDHeader(h) {
			cols.id = i
			continue
		}
		if cols.name < 0 && containsAny(h, nameHeaders) {
			cols.name = i
			continue
		}
		if cols.status < 0 && containsAny(h, statusHeaders) {
			cols.status = i
		}
	}
	if cols.id >= 0 || !loose {
		return cols
	}
	for i, cell := range row {
		if i == cols.name || i == cols.status {
			continue
		}
		if isLooseIDHeader(normalizeHeader(cell)) {
			cols.id = i
			break
		}
	}
	return cols
}

func isExactIDHeader(h string) bool {
	for _, v := range idHeadersExact {
		if h == v {
			return true
		}
	}
	return false
}

// isLooseIDHeader accepts short header cells carrying RFC as a whole token,
// such as "RFC DEL EMISOR"; long title lines mentioning RFC are rejected.
func isLooseIDHeader(h string) bool {
	if h == "" || len(h) > looseHeaderMaxLen {
		return false
	}
	for _, tok := range strings.FieldsFunc(h, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.')
	}) {
		if tok == "RFC" || tok == "R.F.C." || tok == "R.F.C" {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// detectColumns finds the identifier, name and status columns of grid.
// Header names are tried first over the leading rows, exact id headers before
// headers containing RFC. When no header names an identifier column, content
// sampling picks the first column whose non-empty samples are at least 40%
// valid RFCs.
func detectColumns(grid [][]string) (columns, bool) {
	best := columns{id: -1, name: -1, status: -1, header: -1}

	limit := headerScanRows
	if len(grid) < limit {
		limit = len(grid)
	}
	for _, loose := range []bool{false, true} {
		for r := 0; r < limit; r++ {
			cols := matchHeaderRow(grid[r], loose)
			if cols.id >= 0 {
				cols.header = r
				return cols, true
			}
			// keep the first row that names other columns, in case sampling finds the id
			if best.header < 0 && (cols.name >= 0 || cols.status >= 0) {
				best = cols
				best.header = r
			}
		}
	}

	start := 0
	if best.header >= 0 {
		start = best.header + 1
	}
	id := sampleIDColumn(grid, start)
	if id < 0 {
		return best, false
	}
	best.id = id
	if best.name == id {
		best.name = -1
	}
	if best.status == id {
		best.status = -1
	}
	return best, true
}

func sampleIDColumn(grid [][]string, start int) int {
	width := 0
	end := start + sampleScanRows
	if end > len(grid) {
		end = len(grid)
	}
	for r := start; r < end; r++ {
		if len(grid[r]) > width {
			width = len(grid[r])
		}
	}

	for col := 0; col < width; col++ {
		samples, hits := 0, 0
		for r := start; r < end && samples < sampleSize; r++ {
			if col >= len(grid[r]) {
				continue
			}
			v := strings.TrimSpace(grid[r][col])
			if v == "" {
				continue
			}
			samples++
			if IsRFC(v) {
				hits++
			}
		}
		if samples == 0 {
			continue
		}
		need := float64(samples) * sampleThreshold
		if need < 1 {
			need = 1
		}
		if float64(hits) >= need {
			return col
		}
	}
	return -1
}

// rowsFromGrid applies column detection and emits validated rows, at most limit (0 = unbounded)
func rowsFromGrid(grid [][]string, limit int) []Row {
	cols, ok := detectColumns(grid)
	if !ok {
		return nil
	}

	var rows []Row
	for r := cols.header + 1; r < len(grid); r++ {
		if limit > 0 && len(rows) >= limit {
			break
		}
		line := grid[r]
		if cols.id >= len(line) {
			continue
		}
		id := NormalizeRFC(line[cols.id])
		if id == "" {
			continue
		}
		row := Row{TaxpayerID: id}
		if cols.name >= 0 && cols.name < len(line) {
			row.EntityName = util.Truncate(util.CollapseSpace(line[cols.name]), 300)
		}
		if cols.status >= 0 && cols.status < len(line) {
			row.StatusText = util.CollapseSpace(line[cols.status])
		}
		rows = append(rows, row)
	}
	return rows
}
