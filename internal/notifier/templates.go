package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strconv"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/wattmon/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed digest templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	HouseName string
	OwnerName string
	Alerts    []AlertData
}

// AlertData is one alert line of a digest.
type AlertData struct {
	Type          string
	Severity      string
	SeverityColor string
	Message       string
	Value         string
	Threshold     string
	HasValues     bool
	CreatedAt     string
}

// LoadTemplates loads embedded digest templates.
func LoadTemplates() (*Templates, error) {
	htmlTmpl, err := htmltemplate.New("digest.html").
		Funcs(htmltemplate.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/digest.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("digest.txt").
		Funcs(template.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/digest.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// RenderHTML renders the HTML digest body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text digest body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityWarning:
		return "#f57c00" // orange
	case models.SeverityInfo:
		return "#1976d2" // blue
	default:
		return "#757575" // gray
	}
}

// DigestToTemplateData converts a digest to template data.
func DigestToTemplateData(d *Digest) *TemplateData {
	data := &TemplateData{
		HouseName: d.HouseName,
		OwnerName: d.OwnerName,
		Alerts:    make([]AlertData, 0, len(d.Alerts)),
	}
	for _, a := range d.Alerts {
		line := AlertData{
			Type:          string(a.Type),
			Severity:      string(a.Severity),
			SeverityColor: severityColor(a.Severity),
			Message:       a.Message,
			CreatedAt:     a.CreatedAt.Format("2006-01-02 15:04:05 MST"),
		}
		if a.Value != nil && a.Threshold != nil {
			line.HasValues = true
			line.Value = formatValue(*a.Value)
			line.Threshold = formatValue(*a.Threshold)
		}
		data.Alerts = append(data.Alerts, line)
	}
	return data
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
