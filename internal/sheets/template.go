package sheets

import (
	_ "embed"
	"fmt"
	"os"

	"google.golang.org/api/sheets/v4"
	"gopkg.in/yaml.v3"
)

//go:embed template.yaml
var defaultTemplate []byte

type Font struct {
	Family string `yaml:"family"`
	Size   int64  `yaml:"size"`
}

type Color struct {
	Red   float64 `yaml:"red"`
	Green float64 `yaml:"green"`
	Blue  float64 `yaml:"blue"`
}

type BorderStyle struct {
	Style string `yaml:"style"`
	Width int64  `yaml:"width"`
	Color Color  `yaml:"color"`
}

type Column struct {
	Header string `yaml:"header"`
	Width  int64  `yaml:"width"`
	Wrap   bool   `yaml:"wrap"`
	Font   Font   `yaml:"font"`
}

// Template describes the layout applied to every new spreadsheet.
type Template struct {
	SheetID             int64       `yaml:"sheetId"`
	FrozenRows          int64       `yaml:"frozenRows"`
	HeaderHeight        int64       `yaml:"headerHeight"`
	DataRows            int64       `yaml:"dataRows"`
	DataHeight          int64       `yaml:"dataHeight"`
	Border              BorderStyle `yaml:"border"`
	HorizontalAlignment string      `yaml:"horizontalAlignment"`
	VerticalAlignment   string      `yaml:"verticalAlignment"`
	HeaderFont          Font        `yaml:"headerFont"`
	Columns             []Column    `yaml:"columns"`
}

// DefaultTemplate returns the built-in invoice layout.
func DefaultTemplate() (*Template, error) {
	return ParseTemplate(defaultTemplate)
}

// LoadTemplate reads a template file; an empty path means the built-in one.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return DefaultTemplate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet template: %w", err)
	}
	return ParseTemplate(data)
}

func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse sheet template: %w", err)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("sheet template has no columns")
	}
	return &t, nil
}

// Requests builds the batchUpdate payload for the template.
func (t *Template) Requests() []*sheets.Request {
	var reqs []*sheets.Request
	lastRow := 1 + t.DataRows
	cols := int64(len(t.Columns))

	// 列宽
	for i, c := range t.Columns {
		reqs = append(reqs, t.dimension("COLUMNS", int64(i), int64(i)+1, c.Width))
	}
	// 行高
	reqs = append(reqs,
		t.dimension("ROWS", 0, 1, t.HeaderHeight),
		t.dimension("ROWS", 1, lastRow, t.DataHeight),
	)

	border := &sheets.Border{
		Style: t.Border.Style,
		Width: t.Border.Width,
		Color: &sheets.Color{
			Red:   t.Border.Color.Red,
			Green: t.Border.Color.Green,
			Blue:  t.Border.Color.Blue,
		},
	}
	reqs = append(reqs, &sheets.Request{
		UpdateBorders: &sheets.UpdateBordersRequest{
			Range:           t.gridRange(0, lastRow, 0, cols),
			Top:             border,
			Bottom:          border,
			Left:            border,
			Right:           border,
			InnerHorizontal: border,
			InnerVertical:   border,
		},
	})

	header := make([]*sheets.CellData, 0, len(t.Columns))
	for _, c := range t.Columns {
		value := c.Header
		header = append(header, &sheets.CellData{
			UserEnteredValue:  &sheets.ExtendedValue{StringValue: &value},
			UserEnteredFormat: t.format(t.HeaderFont, c.Wrap),
		})
	}
	reqs = append(reqs, &sheets.Request{
		UpdateCells: &sheets.UpdateCellsRequest{
			Rows:   []*sheets.RowData{{Values: header}},
			Fields: "userEnteredValue,userEnteredFormat(horizontalAlignment,verticalAlignment,textFormat,wrapStrategy)",
			Start: &sheets.GridCoordinate{
				SheetId:         t.SheetID,
				ForceSendFields: []string{"SheetId", "RowIndex", "ColumnIndex"},
			},
		},
	})

	for i, c := range t.Columns {
		fields := "userEnteredFormat(horizontalAlignment,verticalAlignment,textFormat)"
		if c.Wrap {
			fields = "userEnteredFormat(horizontalAlignment,verticalAlignment,textFormat,wrapStrategy)"
		}
		reqs = append(reqs, &sheets.Request{
			RepeatCell: &sheets.RepeatCellRequest{
				Range:  t.gridRange(1, lastRow, int64(i), int64(i)+1),
				Cell:   &sheets.CellData{UserEnteredFormat: t.format(c.Font, c.Wrap)},
				Fields: fields,
			},
		})
	}

	if t.FrozenRows > 0 {
		reqs = append(reqs, &sheets.Request{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:         t.SheetID,
					GridProperties:  &sheets.GridProperties{FrozenRowCount: t.FrozenRows},
					ForceSendFields: []string{"SheetId"},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		})
	}
	return reqs
}

func (t *Template) dimension(dim string, start, end, pixels int64) *sheets.Request {
	return &sheets.Request{
		UpdateDimensionProperties: &sheets.UpdateDimensionPropertiesRequest{
			Range: &sheets.DimensionRange{
				SheetId:         t.SheetID,
				Dimension:       dim,
				StartIndex:      start,
				EndIndex:        end,
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
			Properties: &sheets.DimensionProperties{PixelSize: pixels},
			Fields:     "pixelSize",
		},
	}
}

func (t *Template) gridRange(startRow, endRow, startCol, endCol int64) *sheets.GridRange {
	return &sheets.GridRange{
		SheetId:          t.SheetID,
		StartRowIndex:    startRow,
		EndRowIndex:      endRow,
		StartColumnIndex: startCol,
		EndColumnIndex:   endCol,
		ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
	}
}

func (t *Template) format(font Font, wrap bool) *sheets.CellFormat {
	f := &sheets.CellFormat{
		HorizontalAlignment: t.HorizontalAlignment,
		VerticalAlignment:   t.VerticalAlignment,
		TextFormat: &sheets.TextFormat{
			FontFamily: font.Family,
			FontSize:   font.Size,
		},
	}
	if wrap {
		f.WrapStrategy = "WRAP"
	}
	return f
}
