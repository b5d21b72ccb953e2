package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/zmcp/xrm-webapi/internal/models"
)

// resolveFormat picks table for interactive use and json for pipes when no
// format was requested
func resolveFormat(format string, out *os.File) string {
	if format != "" {
		return format
	}
	if term.IsTerminal(int(out.Fd())) {
		return "table"
	}
	return "json"
}

type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, format: format}
}

// Print renders v in the selected format. Values that do not form a table
// are printed as JSON in table mode.
func (p *printer) Print(v interface{}) error {
	switch p.format {
	case "yaml":
		return p.printYAML(v)
	case "table":
		if rows, ok := tableRows(v); ok {
			return p.printTable(rows)
		}
		if record, ok := toMap(v); ok {
			return p.printRecord(record)
		}
		return p.printJSON(v)
	default:
		return p.printJSON(v)
	}
}

// Message prints a plain status line
func (p *printer) Message(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) printJSON(v interface{}) error {
	encoder := json.NewEncoder(p.w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(v)
}

func (p *printer) printYAML(v interface{}) error {
	// Round trip through JSON so that json tags and raw messages apply
	generic, err := toGeneric(v)
	if err != nil {
		return err
	}
	encoder := yaml.NewEncoder(p.w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(generic)
}

func (p *printer) printTable(rows []map[string]interface{}) error {
	columns := tableColumns(rows)
	if len(columns) == 0 {
		p.Message("(no records)")
		return nil
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}

	table := tablewriter.NewWriter(p.w)
	table.Header(header...)
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = formatCell(row[c])
		}
		if err := table.Append(cells); err != nil {
			return err
		}
	}
	return table.Render()
}

func (p *printer) printRecord(record map[string]interface{}) error {
	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(p.w)
	table.Header("Property", "Value")
	for _, name := range names {
		if err := table.Append([]string{name, formatCell(record[name])}); err != nil {
			return err
		}
	}
	return table.Render()
}

func toGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

func toMap(v interface{}) (map[string]interface{}, bool) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, false
	}
	m, ok := generic.(map[string]interface{})
	return m, ok
}

// tableRows extracts records from entity lists and collection pages
func tableRows(v interface{}) ([]map[string]interface{}, bool) {
	switch t := v.(type) {
	case []models.Entity:
		rows := make([]map[string]interface{}, len(t))
		for i, e := range t {
			rows[i] = e
		}
		return rows, true
	case *models.RetrieveMultipleResponse:
		return tableRows(t.Value)
	}
	return nil, false
}

// tableColumns returns the union of record keys, primary key style columns
// (ending in "id") first. OData control annotations are left out.
func tableColumns(rows []map[string]interface{}) []string {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for name := range row {
			if seen[name] || strings.HasPrefix(name, "@odata.") {
				continue
			}
			seen[name] = true
			columns = append(columns, name)
		}
	}

	sort.Slice(columns, func(i, j int) bool {
		ai, aj := strings.HasSuffix(columns[i], "id"), strings.HasSuffix(columns[j], "id")
		if ai != aj {
			return ai
		}
		return columns[i] < columns[j]
	})
	return columns
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
