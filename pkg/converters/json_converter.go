package converters

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/feichai0017/remi2ai/internal/apperr"
)

// TableConverter 把模型输出的 JSON 转换为表格
type TableConverter interface {
	Convert(jsonText string) (*Table, error)
}

// Table is the model result projected onto spreadsheet rows.
type Table struct {
	Title string     `json:"title"`
	Rows  [][]string `json:"rows"`
}

// ProcessedInvoice 处理后的发票结果
type ProcessedInvoice struct {
	TaskID         string     `json:"taskId"`
	Title          string     `json:"title"`
	Columns        []string   `json:"columns"`
	Rows           [][]string `json:"rows"`
	JSON           string     `json:"json"`
	Thoughts       string     `json:"thoughts,omitempty"`
	SpreadsheetID  string     `json:"spreadsheetId,omitempty"`
	SpreadsheetURL string     `json:"spreadsheetUrl,omitempty"`
	ProcessedAt    time.Time  `json:"processedAt"`
}

// JSONConverter projects results of one response schema.
type JSONConverter struct {
	ordering []string
}

// NewJSONConverter reads the item column order from schema.
func NewJSONConverter(schema *genai.Schema) (*JSONConverter, error) {
	ordering, err := ItemOrdering(schema)
	if err != nil {
		return nil, err
	}
	return &JSONConverter{ordering: ordering}, nil
}

func (c *JSONConverter) Columns() []string {
	return append([]string(nil), c.ordering...)
}

func (c *JSONConverter) Convert(jsonText string) (*Table, error) {
	return project(jsonText, c.ordering)
}

// Project turns the final JSON text into a title and rows in schema order.
func Project(jsonText string, schema *genai.Schema) (*Table, error) {
	ordering, err := ItemOrdering(schema)
	if err != nil {
		return nil, err
	}
	return project(jsonText, ordering)
}

// ItemOrdering returns propertyOrdering of the schema's items element.
func ItemOrdering(schema *genai.Schema) ([]string, error) {
	if schema == nil {
		return nil, apperr.New(apperr.KindInvalidSchema, "message", "response schema is missing")
	}
	items, ok := schema.Properties["items"]
	if !ok || items == nil || items.Items == nil {
		return nil, apperr.New(apperr.KindInvalidSchema, "message", "schema has no items element")
	}
	if len(items.Items.PropertyOrdering) == 0 {
		return nil, apperr.New(apperr.KindInvalidSchema, "message", "items element has no propertyOrdering")
	}
	return items.Items.PropertyOrdering, nil
}

func project(jsonText string, ordering []string) (*Table, error) {
	dec := json.NewDecoder(strings.NewReader(jsonText))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidJSON, err)
	}
	if dec.More() {
		return nil, apperr.New(apperr.KindInvalidJSON, "message", "trailing data after JSON value")
	}

	obj, ok := root.(map[string]any)
	if !ok {
		return nil, apperr.New(apperr.KindSchemaMismatch, "message", "result is not an object")
	}
	title, ok := obj["title"].(string)
	if !ok {
		return nil, apperr.New(apperr.KindSchemaMismatch, "field", "title")
	}
	items, ok := obj["items"].([]any)
	if !ok {
		return nil, apperr.New(apperr.KindSchemaMismatch, "field", "items")
	}

	rows := make([][]string, 0, len(items))
	for i, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			return nil, apperr.New(apperr.KindSchemaMismatch, "field", "items", "index", i)
		}
		row := make([]string, len(ordering))
		for j, name := range ordering {
			row[j] = cellText(item[name])
		}
		rows = append(rows, row)
	}

	return &Table{Title: title, Rows: rows}, nil
}

// MissingProperties lists ordering names the item schema does not declare.
func MissingProperties(schema *genai.Schema) []string {
	ordering, err := ItemOrdering(schema)
	if err != nil {
		return nil
	}
	props := schema.Properties["items"].Items.Properties
	var missing []string
	for _, name := range ordering {
		if _, ok := props[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return numberText(val)
	default:
		// nested values keep their compact JSON form
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return ""
		}
		return strings.TrimRight(buf.String(), "\n")
	}
}

func numberText(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
