package parse

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// --- XML Structs for Sitemap Parsing ---

// XMLURL represents a <url> element in a sitemap
type XMLURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLURLSet represents a <urlset> element in a sitemap
type XMLURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []XMLURL `xml:"url"`
}

// XMLSitemap represents a <sitemap> element in a sitemap index file
type XMLSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLSitemapIndex represents a <sitemapindex> element
type XMLSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []XMLSitemap `xml:"sitemap"`
}

// SitemapKind distinguishes a page list from an index of further sitemaps
type SitemapKind int

const (
	SitemapURLSet SitemapKind = iota
	SitemapIndex
)

// SitemapDocument is a decoded sitemap: page locations for a urlset, sitemap locations for an index.
type SitemapDocument struct {
	Kind SitemapKind
	Locs []string // Trimmed, non-empty <loc> values in document order
}

// DecodeSitemap parses a sitemap body, accepting either <urlset> or <sitemapindex> as root.
// At most limit locations are kept when limit > 0.
func DecodeSitemap(data []byte, limit int) (*SitemapDocument, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, err
	}

	doc := &SitemapDocument{}
	switch root {
	case "urlset":
		var set XMLURLSet
		if err := xml.Unmarshal(data, &set); err != nil {
			return nil, fmt.Errorf("XML urlset: %w", err)
		}
		for _, u := range set.URLs {
			doc.Locs = appendLoc(doc.Locs, u.Loc, limit)
		}
	case "sitemapindex":
		var index XMLSitemapIndex
		if err := xml.Unmarshal(data, &index); err != nil {
			return nil, fmt.Errorf("XML sitemapindex: %w", err)
		}
		doc.Kind = SitemapIndex
		for _, s := range index.Sitemaps {
			doc.Locs = appendLoc(doc.Locs, s.Loc, limit)
		}
	default:
		return nil, fmt.Errorf("XML root element <%s> is not a sitemap", root)
	}
	return doc, nil
}

func appendLoc(locs []string, loc string, limit int) []string {
	loc = strings.TrimSpace(loc)
	if loc == "" || (limit > 0 && len(locs) >= limit) {
		return locs
	}
	return append(locs, loc)
}

// rootElement returns the local name of the first start element.
func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("XML root: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}
