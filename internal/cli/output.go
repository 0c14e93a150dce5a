package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// maxCellWidth — ячейки длиннее обрезаются (тексты сообщений в истории).
const maxCellWidth = 60

// Output печатает результаты команд: таблицы или JSON в stdout,
// служебные сообщения в stderr. В JSON режиме stdout содержит только
// JSON, пригодный для jq.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo создаёт Output с заданными writer'ами.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// Print выводит таблицу или jsonData в зависимости от режима.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит таблицу. Пустой результат — строка "(none)".
func (o *Output) Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(o.w, "(none)")
		return
	}

	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = truncateCell(cell)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
}

// truncateCell сводит ячейку к одной строке не длиннее maxCellWidth рун.
func truncateCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxCellWidth {
		return s
	}
	return string(r[:maxCellWidth-1]) + "…"
}

func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		o.Warn("encode json: " + err.Error())
	}
}

// Text выводит строку в stdout.
func (o *Output) Text(msg string) {
	fmt.Fprintln(o.w, msg)
}

// Success, Warn пишут в stderr и не мешают JSON в stdout.
func (o *Output) Success(msg string) {
	fmt.Fprintln(o.errW, msg)
}

func (o *Output) Warn(msg string) {
	fmt.Fprintln(o.errW, "Warning: "+msg)
}
