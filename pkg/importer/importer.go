package importer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"rtb-inventory-api/internal/models"

	"github.com/tealeg/xlsx/v3"
	"gopkg.in/yaml.v3"
)

// DefaultMaxErrors caps the row errors collected before a read stops
const DefaultMaxErrors = 50

// ImportOptions defines the configuration for Excel import operations
type ImportOptions struct {
	MappingPath string // empty means DefaultMapping
	MaxErrors   int    // default 50
}

// RowError represents an error that occurred during row processing
type RowError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s row %d: %s", e.Sheet, e.Row, e.Message)
}

// Row is one parsed device row and the spreadsheet position it came from
type Row struct {
	Sheet   string
	Row     int
	Request models.CreateDeviceRequest
}

// SheetSummary contains the read statistics for a single sheet
type SheetSummary struct {
	Name    string     `json:"name"`
	Parsed  int        `json:"parsed"`
	Skipped int        `json:"skipped"`
	Errors  int        `json:"errors"`
	Samples []RowError `json:"error_samples,omitempty"`
}

// Summary contains the overall read statistics
type Summary struct {
	Parsed  int            `json:"parsed"`
	Skipped int            `json:"skipped"`
	Errors  int            `json:"errors"`
	Sheets  []SheetSummary `json:"sheets"`
}

// Mapping describes how sheet headers map onto device intake fields
type Mapping struct {
	Version int                     `yaml:"version"`
	Sheets  map[string]SheetMapping `yaml:"sheets"`
}

// SheetMapping maps the columns of one sheet. Category, when set, is used
// for rows that leave the category column empty.
type SheetMapping struct {
	Category string                  `yaml:"category"`
	Aliases  map[string][]string     `yaml:"aliases"`
	Columns  map[string]ColumnConfig `yaml:"columns"`
}

type ColumnConfig struct {
	Field string `yaml:"field"`
	Type  string `yaml:"type"`
}

// DefaultMapping is used when no mapping file is configured
func DefaultMapping() *Mapping {
	return &Mapping{
		Version: 1,
		Sheets: map[string]SheetMapping{
			"Devices": {
				Aliases: map[string][]string{
					"Serial":    {"Serial Number", "S/N", "SN"},
					"Category":  {"Type", "Device Type"},
					"Brand":     {"Make", "Manufacturer"},
					"Condition": {"State"},
					"Notes":     {"Remarks", "Comment"},
				},
				Columns: map[string]ColumnConfig{
					"Serial":    {Field: "serial_number", Type: "TEXT"},
					"Category":  {Field: "category", Type: "TEXT"},
					"Brand":     {Field: "brand", Type: "TEXT"},
					"Model":     {Field: "model", Type: "TEXT"},
					"Condition": {Field: "condition", Type: "TEXT"},
					"Notes":     {Field: "notes", Type: "TEXT?"},
				},
			},
		},
	}
}

// LoadMapping reads a YAML mapping file
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", path, err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes and checks a YAML mapping document
func ParseMapping(data []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	if len(m.Sheets) == 0 {
		return nil, fmt.Errorf("mapping defines no sheets")
	}
	for name, sheet := range m.Sheets {
		for header, col := range sheet.Columns {
			if !knownFields[col.Field] {
				return nil, fmt.Errorf("sheet %s: column %s maps to unknown field %q", name, header, col.Field)
			}
		}
		if sheet.Category != "" {
			if _, err := parseCategory(sheet.Category); err != nil {
				return nil, fmt.Errorf("sheet %s: %w", name, err)
			}
		}
	}
	return &m, nil
}

var knownFields = map[string]bool{
	"serial_number": true,
	"category":      true,
	"brand":         true,
	"model":         true,
	"condition":     true,
	"notes":         true,
}

// ReadDevices parses every mapped sheet of an .xlsx workbook into device
// intake rows. Rows that cannot be parsed are reported in the summary and
// left out; an error is returned only when the workbook itself is unusable
// or more than MaxErrors rows fail.
func ReadDevices(r io.Reader, opts ImportOptions) ([]Row, Summary, error) {
	summary := Summary{Sheets: []SheetSummary{}}

	if opts.MaxErrors == 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	mapping := DefaultMapping()
	if opts.MappingPath != "" {
		m, err := LoadMapping(opts.MappingPath)
		if err != nil {
			return nil, summary, fmt.Errorf("failed to load mapping config: %w", err)
		}
		mapping = m
	}

	// xlsx.OpenBinary needs the whole document in memory
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to read Excel file: %w", err)
	}
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to open Excel file: %w", err)
	}

	var rows []Row
	for _, sheet := range xlFile.Sheets {
		cfg, ok := mapping.Sheets[sheet.Name]
		if !ok {
			continue
		}
		parsed, sheetSummary := processSheet(sheet, cfg)
		rows = append(rows, parsed...)
		summary.Sheets = append(summary.Sheets, sheetSummary)
		summary.Parsed += sheetSummary.Parsed
		summary.Skipped += sheetSummary.Skipped
		summary.Errors += sheetSummary.Errors

		if summary.Errors > opts.MaxErrors {
			return rows, summary, fmt.Errorf("too many errors (%d), stopping import", summary.Errors)
		}
	}
	return rows, summary, nil
}

func processSheet(sheet *xlsx.Sheet, cfg SheetMapping) ([]Row, SheetSummary) {
	summary := SheetSummary{Name: sheet.Name}
	fail := func(row int, msg string) {
		summary.Errors++
		summary.Samples = append(summary.Samples, RowError{Sheet: sheet.Name, Row: row, Message: msg})
	}

	header, err := sheet.Row(0)
	if err != nil {
		fail(1, "failed to read header row: "+err.Error())
		return nil, summary
	}
	columns := resolveColumns(header, sheet.MaxCol, cfg)

	var rows []Row
	for rowIdx := 1; rowIdx < sheet.MaxRow; rowIdx++ {
		row, err := sheet.Row(rowIdx)
		if err != nil {
			break
		}

		values := make(map[string]string)
		for col, name := range columns {
			if v := strings.TrimSpace(row.GetCell(col).String()); v != "" {
				values[name] = v
			}
		}
		if len(values) == 0 {
			summary.Skipped++
			continue
		}

		req, err := buildRequest(values, cfg)
		if err != nil {
			fail(rowIdx+1, err.Error())
			continue
		}
		rows = append(rows, Row{Sheet: sheet.Name, Row: rowIdx + 1, Request: req})
		summary.Parsed++
	}
	return rows, summary
}

// resolveColumns maps cell indexes to configured column names, matching
// headers and their aliases case-insensitively.
func resolveColumns(header *xlsx.Row, maxCol int, cfg SheetMapping) map[int]string {
	lookup := make(map[string]string)
	for name := range cfg.Columns {
		lookup[strings.ToUpper(name)] = name
	}
	for name, aliases := range cfg.Aliases {
		if _, ok := cfg.Columns[name]; !ok {
			continue
		}
		for _, alias := range aliases {
			lookup[strings.ToUpper(alias)] = name
		}
	}

	out := make(map[int]string)
	for col := 0; col < maxCol; col++ {
		title := strings.ToUpper(strings.TrimSpace(header.GetCell(col).String()))
		if name, ok := lookup[title]; ok {
			out[col] = name
		}
	}
	return out
}

func buildRequest(values map[string]string, cfg SheetMapping) (models.CreateDeviceRequest, error) {
	var req models.CreateDeviceRequest
	if cfg.Category != "" {
		req.Category, _ = parseCategory(cfg.Category)
	}

	for name, col := range cfg.Columns {
		value, ok := values[name]
		if !ok {
			if !strings.HasSuffix(col.Type, "?") && !(col.Field == "category" && req.Category != "") {
				return req, fmt.Errorf("missing %s", name)
			}
			continue
		}
		if err := assign(&req, col, value); err != nil {
			return req, fmt.Errorf("failed to parse %s: %v", name, err)
		}
	}
	return req, nil
}

func assign(req *models.CreateDeviceRequest, col ColumnConfig, value string) error {
	var err error
	switch col.Field {
	case "serial_number":
		req.SerialNumber = value
	case "brand":
		req.Brand = value
	case "model":
		req.Model = value
	case "notes":
		req.Notes = &value
	case "category":
		req.Category, err = parseCategory(value)
	case "condition":
		req.Condition, err = parseCondition(value)
	}
	return err
}

var categoryAliases = map[string]models.DeviceCategory{
	"laptop":     models.CategoryLaptop,
	"laptops":    models.CategoryLaptop,
	"notebook":   models.CategoryLaptop,
	"desktop":    models.CategoryDesktop,
	"desktops":   models.CategoryDesktop,
	"pc":         models.CategoryDesktop,
	"tablet":     models.CategoryTablet,
	"tablets":    models.CategoryTablet,
	"projector":  models.CategoryProjector,
	"projectors": models.CategoryProjector,
	"other":      models.CategoryOthers,
	"others":     models.CategoryOthers,
}

func parseCategory(v string) (models.DeviceCategory, error) {
	if c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(v))]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown device category %q", v)
}

func parseCondition(v string) (models.DeviceCondition, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("empty condition")
	}
	c := models.DeviceCondition(strings.ToUpper(v[:1]) + strings.ToLower(v[1:]))
	if !c.Valid() {
		return "", fmt.Errorf("unknown device condition %q", v)
	}
	return c, nil
}
