package mapping

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/nowplaying-fm/ingest-engine/internal/model"
)

// extractXML implements the XML path resolution of spec.md §4.1: a
// streaming tag scan builds a flat map from dotted element paths to
// the first non-empty text or CDATA content seen at that path, then
// each field path is resolved against it via xmlLookup.
func extractXML(body string, m *model.MappingSpec) Fields {
	values := scanXMLPaths(body)

	f := Fields{
		Artist: xmlLookup(values, m.ListPath, m.ArtistPath),
		Title:  xmlLookup(values, m.ListPath, m.TitlePath),
		Album:  xmlLookup(values, m.ListPath, m.AlbumPath),
	}
	if raw := xmlLookup(values, m.ListPath, m.ReportedAtPath); raw != nil {
		if t, ok := ParseReportedAt(*raw); ok {
			f.ReportedAt = &t
		}
	}
	if raw := xmlLookup(values, m.ListPath, m.DurationPath); raw != nil {
		if d, ok := ParseDurationSeconds(*raw); ok {
			f.Duration = &d
		}
	}
	return f
}

// scanXMLPaths walks the document once, tracking the tag-name stack,
// and records the first non-empty text/CDATA content seen at each
// dotted element path ("outer.inner.leaf").
func scanXMLPaths(body string) map[string]string {
	values := make(map[string]string)
	dec := xml.NewDecoder(strings.NewReader(body))
	dec.Strict = false

	var stack []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" || len(stack) == 0 {
				continue
			}
			path := strings.Join(stack, ".")
			if _, exists := values[path]; !exists {
				values[path] = text
			}
		}
	}
	return values
}

// xmlLookup resolves a single field path P against the flattened
// element map: try list_path+"."+P first (if list_path is set), then
// fall back to any key equal to P or ending in ".P".
func xmlLookup(values map[string]string, listPath, fieldPath string) *string {
	if fieldPath == "" {
		return nil
	}

	if listPath != "" {
		if v, ok := values[listPath+"."+fieldPath]; ok {
			return &v
		}
	} else if v, ok := values[fieldPath]; ok {
		return &v
	}

	suffix := "." + fieldPath
	for k, v := range values {
		if k == fieldPath || strings.HasSuffix(k, suffix) {
			return &v
		}
	}
	return nil
}

// XMLToValue converts an XML document into a generic value tree of the
// same shape encoding/json would produce (nested map[string]any, with
// repeated child elements collapsed into []any, leaves as strings), so
// it can be walked by getPath/extractJSON/extractBestEffort exactly
// like a JSON payload. This is for connections whose declared
// transport is NOT XML but whose body happens to sniff as XML: those
// still resolve their mapping's dotted paths as ordinary JSON paths,
// not through the element-path/tag-scan extractor in this file, which
// is reserved for connections that declare an XML transport. Returns
// ok=false if the document can't be parsed at all.
func XMLToValue(body string) (value any, ok bool) {
	dec := xml.NewDecoder(strings.NewReader(body))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		if start, ok := tok.(xml.StartElement); ok {
			v, err := xmlElementToValue(dec, start)
			if err != nil {
				return nil, false
			}
			return v, true
		}
	}
}

func xmlElementToValue(dec *xml.Decoder, start xml.StartElement) (any, error) {
	children := make(map[string][]any)
	var text strings.Builder

loop:
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := xmlElementToValue(dec, t)
			if err != nil {
				return nil, err
			}
			children[t.Name.Local] = append(children[t.Name.Local], child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				break loop
			}
		}
	}

	if len(children) == 0 {
		return strings.TrimSpace(text.String()), nil
	}
	obj := make(map[string]any, len(children))
	for k, v := range children {
		if len(v) == 1 {
			obj[k] = v[0]
		} else {
			obj[k] = v
		}
	}
	return obj, nil
}
