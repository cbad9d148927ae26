package render

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// binaryExtensions are link targets that never lead to a crawlable page
var binaryExtensions = map[string]bool{
	".pdf": true, ".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".rar": true, ".7z": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true, ".bmp": true,
	".mp3": true, ".mp4": true, ".webm": true, ".avi": true, ".mov": true, ".wav": true, ".ogg": true,
	".exe": true, ".dmg": true, ".msi": true, ".deb": true, ".rpm": true, ".apk": true, ".iso": true, ".bin": true,
	".css": true, ".js": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
}

// IsBinaryLink reports whether the URL path ends in a known non-page extension
func IsBinaryLink(u *url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	return ext != "" && binaryExtensions[ext]
}

// LinkOptions controls which anchors ExtractLinks keeps
type LinkOptions struct {
	RespectNofollow bool // Skip anchors with rel="nofollow"
}

// ExtractLinks returns the absolute http(s) links of every <a href> in the document, resolved
// against finalURL, in document order and without duplicates. Binary targets are skipped.
// Links are not canonicalized here; the scheduler does that.
func ExtractLinks(doc *goquery.Document, finalURL *url.URL, opts LinkOptions, log *logrus.Entry) []string {
	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, element *goquery.Selection) {
		href, _ := element.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		if opts.RespectNofollow {
			if rel, _ := element.Attr("rel"); strings.Contains(strings.ToLower(rel), "nofollow") {
				log.Debugf("Skipping nofollow link: %s", href)
				return
			}
		}

		linkURL, err := finalURL.Parse(href)
		if err != nil {
			log.Debugf("Skipping invalid link href '%s': %v", href, err)
			return
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return // mailto:, tel:, javascript: and friends
		}
		if linkURL.Host == "" || IsBinaryLink(linkURL) {
			return
		}

		linkURL.Fragment = ""
		linkURL.RawFragment = ""
		abs := linkURL.String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links
}

// DocumentTitle returns the trimmed text of the first <title>
func DocumentTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}
