package importer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"rtb-inventory-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"
)

func workbook(t *testing.T, sheets map[string][][]string) *bytes.Buffer {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sh, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, values := range rows {
			row := sh.AddRow()
			for _, v := range values {
				row.AddCell().SetString(v)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestReadDevicesDefaultMapping(t *testing.T) {
	buf := workbook(t, map[string][][]string{
		"Devices": {
			{"S/N", "Device Type", "Make", "Model", "Condition", "Remarks"},
			{"SN-1", "laptop", "Dell", "Latitude 3420", "new", ""},
			{"", "", "", "", "", ""},
			{"SN-2", "Projectors", "Epson", "EB-X06", "Good", "spare lamp"},
			{"SN-3", "kettle", "Acme", "K1", "Good", ""},
			{"SN-4", "tablet", "Samsung", "", "Fair", ""},
		},
		"Notes": {
			{"anything"},
		},
	})

	rows, sum, err := ReadDevices(buf, ImportOptions{})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "Devices", rows[0].Sheet)
	assert.Equal(t, 2, rows[0].Row)
	assert.Equal(t, models.CreateDeviceRequest{
		SerialNumber: "SN-1",
		Category:     models.CategoryLaptop,
		Brand:        "Dell",
		Model:        "Latitude 3420",
		Condition:    models.ConditionNew,
	}, rows[0].Request)

	assert.Equal(t, 4, rows[1].Row)
	assert.Equal(t, models.CategoryProjector, rows[1].Request.Category)
	require.NotNil(t, rows[1].Request.Notes)
	assert.Equal(t, "spare lamp", *rows[1].Request.Notes)

	assert.Equal(t, 2, sum.Parsed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 2, sum.Errors)
	require.Len(t, sum.Sheets, 1)
	samples := sum.Sheets[0].Samples
	require.Len(t, samples, 2)
	assert.Equal(t, 5, samples[0].Row)
	assert.Contains(t, samples[0].Message, "unknown device category")
	assert.Equal(t, 6, samples[1].Row)
	assert.Contains(t, samples[1].Message, "missing Model")
}

func TestReadDevicesStopsAfterMaxErrors(t *testing.T) {
	buf := workbook(t, map[string][][]string{
		"Devices": {
			{"Serial", "Category", "Brand", "Model", "Condition"},
			{"A", "bogus", "x", "y", "Good"},
			{"B", "bogus", "x", "y", "Good"},
		},
	})

	_, sum, err := ReadDevices(buf, ImportOptions{MaxErrors: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many errors")
	assert.Equal(t, 2, sum.Errors)
}

func TestReadDevicesRejectsGarbage(t *testing.T) {
	_, _, err := ReadDevices(bytes.NewBufferString("not a workbook"), ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open Excel file")
}

const tabletMapping = `
version: 1
sheets:
  Tablets:
    category: tablet
    aliases:
      Serial: ["Serial No"]
    columns:
      Serial: {field: serial_number, type: TEXT}
      Brand: {field: brand, type: TEXT}
      Model: {field: model, type: TEXT}
      Condition: {field: condition, type: TEXT}
`

func TestReadDevicesWithMappingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tabletMapping), 0o600))

	buf := workbook(t, map[string][][]string{
		"Tablets": {
			{"Serial No", "Brand", "Model", "Condition"},
			{"T-1", "Lenovo", "M10", "Good"},
		},
	})

	rows, sum, err := ReadDevices(buf, ImportOptions{MappingPath: path})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.CategoryTablet, rows[0].Request.Category)
	assert.Equal(t, "T-1", rows[0].Request.SerialNumber)
	assert.Equal(t, 0, sum.Errors)
}

func TestParseMapping(t *testing.T) {
	_, err := ParseMapping([]byte(tabletMapping))
	assert.NoError(t, err)

	_, err = ParseMapping([]byte("version: 1\n"))
	assert.Error(t, err)

	_, err = ParseMapping([]byte(`
sheets:
  Devices:
    columns:
      IP: {field: mgmt_ip, type: INET}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")

	_, err = ParseMapping([]byte(`
sheets:
  Devices:
    category: toaster
    columns:
      Serial: {field: serial_number}
`))
	assert.Error(t, err)
}

func TestParseCondition(t *testing.T) {
	c, err := parseCondition("FAULTY")
	require.NoError(t, err)
	assert.Equal(t, models.ConditionFaulty, c)

	_, err = parseCondition("broken")
	assert.Error(t, err)
}
