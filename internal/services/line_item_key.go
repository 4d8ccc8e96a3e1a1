package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"

	domain "github.com/hanko-field/orders/internal/domain"
)

// LineItemKey derives the identity used to merge line items: the stock ID alone when the item
// carries no customisations, otherwise the stock ID joined to an encoding of the
// customisation titles and values.
func LineItemKey(stockID string, customisations []domain.Customisation) string {
	if len(customisations) == 0 {
		return stockID
	}
	return stockID + ":" + base64.StdEncoding.EncodeToString(customisationDigest(customisations))
}

// customisationDigest renders {"title":"value",...} in first-seen title order. A repeated
// title keeps its first position and takes the later value.
func customisationDigest(customisations []domain.Customisation) []byte {
	titles := make([]string, 0, len(customisations))
	values := make(map[string]string, len(customisations))
	for _, c := range customisations {
		title := norm.NFC.String(c.Title)
		if _, seen := values[title]; !seen {
			titles = append(titles, title)
		}
		values[title] = norm.NFC.String(c.Value)
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, title := range titles {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(&b, title)
		b.WriteByte(':')
		writeJSONString(&b, values[title])
	}
	b.WriteByte('}')
	return []byte(b.String())
}

// writeJSONString quotes s as a JSON string. HTML characters stay literal.
func writeJSONString(b *strings.Builder, s string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	b.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
