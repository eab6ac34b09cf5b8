package notion

import "github.com/jomei/notionapi"

// Title builds a title property.
func Title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: richText(s),
	}
}

// Text builds a rich text property.
func Text(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: richText(s),
	}
}

// Select builds a select property.
func Select(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: name},
	}
}

// Number builds a number property.
func Number(v float64) notionapi.NumberProperty {
	return notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: v,
	}
}

// URL builds a URL property.
func URL(u string) notionapi.URLProperty {
	return notionapi.URLProperty{
		Type: notionapi.PropertyTypeURL,
		URL:  u,
	}
}

func richText(s string) []notionapi.RichText {
	// Notion rejects rich text segments over 2000 characters.
	if len(s) > 2000 {
		s = s[:2000]
	}
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}}
}
