package extract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

func TestExtract_HeaderOrderIndependent(t *testing.T) {
	csvData := "Razón Social,RFC,Situación del contribuyente\n" +
		"ACME COMERCIAL SA DE CV,CAL080328S18,Definitivo\n" +
		"OTRA EMPRESA SC,AAA010101AAA,Presunto\n"

	rows := New().Extract([]byte(csvData), "Listado_69B.csv")

	require.Len(t, rows, 2)
	assert.Equal(t, Row{TaxpayerID: "CAL080328S18", EntityName: "ACME COMERCIAL SA DE CV", StatusText: "Definitivo"}, rows[0])
	assert.Equal(t, "AAA010101AAA", rows[1].TaxpayerID)
	assert.Equal(t, "Presunto", rows[1].StatusText)
}

func TestExtract_SkipsTitleRowsBeforeHeader(t *testing.T) {
	csvData := "SERVICIO DE ADMINISTRACION TRIBUTARIA\n" +
		"Listado de contribuyentes no localizados\n" +
		"\n" +
		"No;RFC;Nombre\n" +
		"1;XYZ990101AB1;PERSONA UNO\n" +
		"2;INVALIDO;PERSONA DOS\n"

	rows := New().Extract([]byte(csvData), "NoLocalizados.csv")

	require.Len(t, rows, 1)
	assert.Equal(t, "XYZ990101AB1", rows[0].TaxpayerID)
	assert.Equal(t, "PERSONA UNO", rows[0].EntityName)
}

func TestGrid_SubstringIDHeaderWithSparseValues(t *testing.T) {
	grid := [][]string{
		{"No", "RFC DEL EMISOR", "NOMBRE"},
		{"1", "N/D", "SIN DATO UNO"},
		{"2", "CAL080328S18", "ACME COMERCIAL SA DE CV"},
		{"3", "N/D", "SIN DATO DOS"},
		{"4", "N/D", "SIN DATO TRES"},
	}

	rows := New().Grid(grid)

	require.Len(t, rows, 1)
	assert.Equal(t, Row{TaxpayerID: "CAL080328S18", EntityName: "ACME COMERCIAL SA DE CV"}, rows[0])
}

func TestDetectColumns_ExactHeaderBeatsSubstring(t *testing.T) {
	grid := [][]string{
		{"RFC PROVEEDOR", "RFC", "RAZON SOCIAL DEL RFC"},
		{"AAA010101AAA", "CAL080328S18", "ACME"},
	}

	cols, ok := detectColumns(grid)

	require.True(t, ok)
	assert.Equal(t, 1, cols.id)
	assert.Equal(t, 2, cols.name)
}

func TestIsLooseIDHeader(t *testing.T) {
	assert.True(t, isLooseIDHeader("RFC DEL EMISOR"))
	assert.True(t, isLooseIDHeader("R.F.C. PROVEEDOR"))
	assert.False(t, isLooseIDHeader("RFCS"))
	assert.False(t, isLooseIDHeader("LISTADO DE CONTRIBUYENTES CON RFC PUBLICADOS POR EL SAT"))
}

func TestExtract_ContentSamplingFallback(t *testing.T) {
	// no recognizable header: identifiers live in the third column
	csvData := "a|b|c\n" +
		"1|x|CAL080328S18\n" +
		"2|y|AAA010101AAA\n" +
		"3|z|not-an-rfc\n"

	rows := New().Extract([]byte(csvData), "datos.txt")

	require.Len(t, rows, 2)
	assert.Equal(t, "CAL080328S18", rows[0].TaxpayerID)
	assert.Empty(t, rows[0].EntityName)
}

func TestExtract_Latin1CSV(t *testing.T) {
	utf := "RFC,RAZÓN SOCIAL\nCAL080328S18,COMPAÑÍA ÑANDÚ SA\n"
	latin1, err := charmap.ISO8859_1.NewEncoder().String(utf)
	require.NoError(t, err)

	rows := New().Extract([]byte(latin1), "lista.csv")

	require.Len(t, rows, 1)
	assert.Equal(t, "COMPAÑÍA ÑANDÚ SA", rows[0].EntityName)
}

func TestExtract_XLSX(t *testing.T) {
	data := buildXLSX(t, [][]interface{}{
		{"No", "Nombre del Contribuyente", "RFC"},
		{1, "ACME SA", "CAL080328S18"},
		{2, "BETA SC", "BBB020202BB2"},
	})

	rows := New().Extract(data, "https://sat.gob.mx/Firmes.xlsx")

	require.Len(t, rows, 2)
	assert.Equal(t, "ACME SA", rows[0].EntityName)
	assert.Equal(t, "BBB020202BB2", rows[1].TaxpayerID)
}

func TestExtract_ArchiveSkipsCorruptMember(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("Definitivos.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("RFC,RAZON SOCIAL\nCAL080328S18,ACME SA\n"))
	require.NoError(t, err)

	w, err = zw.Create("Roto.xlsx")
	require.NoError(t, err)
	_, err = w.Write([]byte("PK\x03\x04 this is not a workbook"))
	require.NoError(t, err)

	w, err = zw.Create("LEEME.pdf")
	require.NoError(t, err)
	_, err = w.Write([]byte("CAL080328S18"))
	require.NoError(t, err)

	require.NoError(t, zw.Close())

	rows := New().Extract(buf.Bytes(), "Lista69B_Definitivos.zip")

	require.Len(t, rows, 1)
	assert.Equal(t, "CAL080328S18", rows[0].TaxpayerID)
	assert.Equal(t, "ACME SA", rows[0].EntityName)
}

func TestExtract_HTMLDisguisedAsXLS(t *testing.T) {
	page := `<html><body><table>
		<tr><th>R.F.C.</th><th>Denominación</th></tr>
		<tr><td>CAL080328S18</td><td>ACME SA</td></tr>
	</table></body></html>`

	rows := New().Extract([]byte(page), "Cancelados.xls")

	require.Len(t, rows, 1)
	assert.Equal(t, "ACME SA", rows[0].EntityName)
}

func TestExtract_MaxRows(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("RFC\n")
	for i := 0; i < 50; i++ {
		b.WriteString("CAL080328S18\n")
	}

	rows := New(WithMaxRows(10)).Extract(b.Bytes(), "x.csv")

	assert.Len(t, rows, 10)
}

func TestExtract_GarbageYieldsEmpty(t *testing.T) {
	e := New()
	assert.Empty(t, e.Extract(nil, "x.csv"))
	assert.Empty(t, e.Extract([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0x00}, "x.xls"))
	assert.Empty(t, e.Extract([]byte("PK\x03\x04garbage"), "x.zip"))
	assert.Empty(t, e.Extract([]byte("sin columnas\nnada aqui\n"), "x.csv"))
}

func TestExtract_NeverPanics(t *testing.T) {
	e := New()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	hints := gen.OneConstOf("a.csv", "a.xlsx", "a.xls", "a.zip", "a.txt", "")
	prefixes := gen.OneConstOf("", "PK\x03\x04", "\xD0\xCF\x11\xE0\xA1\xB1\x1A\xE1", "<table>", "RFC,NOMBRE\n")

	properties.Property("extract returns without panicking", prop.ForAll(
		func(prefix string, body []byte, hint string) bool {
			data := append([]byte(prefix), body...)
			rows := e.Extract(data, hint)
			for _, r := range rows {
				if !IsRFC(r.TaxpayerID) {
					return false
				}
			}
			return true
		},
		prefixes,
		gen.SliceOf(gen.UInt8()),
		hints,
	))

	properties.TestingRun(t)
}

func buildXLSX(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}
