package export

import (
	"bytes"
	"fmt"
	"html/template"
)

type reportRow struct {
	Project string
	Hours   []float64
	Total   float64
}

type reportData struct {
	WeekStart string
	WeekEnd   string
	Dates     []string
	Rows      []reportRow
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"hours": func(h float64) string {
		if h == 0 {
			return "–"
		}
		return fmt.Sprintf("%.1f", h)
	},
}).Parse(reportHTML))

func renderReportHTML(data reportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Allocation {{.WeekStart}}</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 2rem; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: right; }
    th:first-child, td:first-child { text-align: left; }
    th { background: #f5f5f5; }
    td.total { font-weight: bold; }
  </style>
</head>
<body>
  <h1>Resource Allocation</h1>
  <div class="meta">Booked hours per project, {{.WeekStart}} to {{.WeekEnd}}</div>
  <table>
    <tr>
      <th>Project</th>
      {{range .Dates}}<th>{{.}}</th>{{end}}
      <th>Total</th>
    </tr>
    {{range .Rows}}
    <tr>
      <td>{{.Project}}</td>
      {{range .Hours}}<td>{{hours .}}</td>{{end}}
      <td class="total">{{hours .Total}}</td>
    </tr>
    {{end}}
  </table>
</body>
</html>`
