package templates

import (
	"settlement-reconciliation-service/internal/models"
)

// GenericTemplateName is the layout used when an acquirer has no dedicated template
const GenericTemplateName = "Generic"

type layout struct {
	name             string
	acquirer         string
	delimiter        string
	dateFormat       string
	decimalSeparator string
	skipRows         int
	mapping          models.ColumnMapping
}

var defaultLayouts = []layout{
	{
		name: "Cielo", acquirer: "Cielo", delimiter: ";", dateFormat: "dd/MM/yyyy", decimalSeparator: ",", skipRows: 1,
		mapping: models.ColumnMapping{
			Date: 0, Brand: models.Col(1), Installments: models.Col(2), GrossAmount: 3,
			FeeAmount: models.Col(4), NetAmount: models.Col(5), NSU: models.Col(6),
			AuthCode: models.Col(7), LastDigits: models.Col(8),
		},
	},
	{
		name: "Rede", acquirer: "Rede", delimiter: ";", dateFormat: "dd/MM/yyyy", decimalSeparator: ",", skipRows: 1,
		mapping: models.ColumnMapping{
			Date: 0, NSU: models.Col(1), AuthCode: models.Col(2), Brand: models.Col(3),
			GrossAmount: 4, NetAmount: models.Col(5), FeeAmount: models.Col(6),
			Installments: models.Col(7), LastDigits: models.Col(8),
		},
	},
	{
		name: "Stone", acquirer: "Stone", delimiter: ",", dateFormat: "yyyy-MM-dd", decimalSeparator: ".", skipRows: 1,
		mapping: models.ColumnMapping{
			Date: 0, NSU: models.Col(1), AuthCode: models.Col(2), Brand: models.Col(3),
			LastDigits: models.Col(4), Installments: models.Col(5), GrossAmount: 6,
			FeeAmount: models.Col(7), NetAmount: models.Col(8),
		},
	},
	{
		name: "GetNet", acquirer: "GetNet", delimiter: ";", dateFormat: "dd/MM/yyyy", decimalSeparator: ",", skipRows: 1,
		mapping: models.ColumnMapping{
			Date: 0, Brand: models.Col(1), NSU: models.Col(2), AuthCode: models.Col(3),
			LastDigits: models.Col(4), GrossAmount: 5, FeeAmount: models.Col(6),
			NetAmount: models.Col(7), Installments: models.Col(8),
		},
	},
	{
		name: "PagSeguro", acquirer: "PagSeguro", delimiter: ";", dateFormat: "dd/MM/yyyy", decimalSeparator: ",", skipRows: 1,
		mapping: models.ColumnMapping{
			Date: 0, NSU: models.Col(1), Brand: models.Col(2), GrossAmount: 3,
			FeeAmount: models.Col(4), NetAmount: models.Col(5), Installments: models.Col(6),
			AuthCode: models.Col(7),
		},
	},
	{
		name: GenericTemplateName, acquirer: "Generic", delimiter: ";", dateFormat: "dd/MM/yyyy", decimalSeparator: ",",
		mapping: models.ColumnMapping{
			Date: 0, NSU: models.Col(1), AuthCode: models.Col(2), Brand: models.Col(3),
			LastDigits: models.Col(4), Installments: models.Col(5), GrossAmount: 6,
		},
	},
}

// DefaultTemplates returns fresh copies of the built-in templates for a tenant
func DefaultTemplates(tenantID string) []*models.Template {
	templates := make([]*models.Template, 0, len(defaultLayouts))
	for _, l := range defaultLayouts {
		tpl := &models.Template{
			TenantID:         tenantID,
			Name:             l.name,
			AcquirerName:     l.acquirer,
			Delimiter:        l.delimiter,
			DateFormat:       l.dateFormat,
			DecimalSeparator: l.decimalSeparator,
			SkipRows:         l.skipRows,
		}
		tpl.SetMapping(l.mapping)
		templates = append(templates, tpl)
	}
	return templates
}
