// Package extract parses manga catalog pages into structured data. Upstream
// markup changes without notice, so every extractor tries a cascade of
// selectors from most specific to most generic and returns whatever the
// first productive tier yields.
package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MangaItem is one catalog entry on a listing page.
type MangaItem struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
	URL   string `json:"url"`
	Cover string `json:"cover,omitempty"`
}

// PageLink is one pagination target.
type PageLink struct {
	Page string `json:"page"`
	URL  string `json:"url"`
}

// Pagination describes the pager discovered on a listing page.
type Pagination struct {
	Current int        `json:"current"`
	Pages   []PageLink `json:"pages"`
}

// MangaList is the parsed listing page.
type MangaList struct {
	Items      []MangaItem `json:"items"`
	Pagination Pagination  `json:"pagination"`
	Note       string      `json:"note,omitempty"`
}

// Chapter is one chapter link on a detail page.
type Chapter struct {
	Number string `json:"chapter_number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

// MangaDetail is the parsed series detail page.
type MangaDetail struct {
	Slug        string    `json:"slug"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Cover       string    `json:"cover,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Chapters    []Chapter `json:"chapters"`
}

var (
	readerHrefRe  = regexp.MustCompile(`/reader/([^/]+)/(\d+)`)
	mangaHrefRe   = regexp.MustCompile(`/manga/([^/]+)/(\d+)`)
	mangaSlugRe   = regexp.MustCompile(`/manga/([^/]+)`)
	trailingNumRe = regexp.MustCompile(`/(\d+)/?$`)
	imageExtRe    = regexp.MustCompile(`\.(jpe?g|png|webp)(\?|$)`)
	digitRe       = regexp.MustCompile(`\d`)
)

// SlugFromHref derives a series slug from a catalog href: the segment after
// /manga/ or /reader/, falling back to the last path segment.
func SlugFromHref(href string) string {
	href = strings.Trim(strings.TrimSpace(href), "/")
	if href == "" {
		return ""
	}
	parts := strings.Split(href, "/")
	for i, p := range parts {
		if (p == "manga" || p == "reader") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return parts[len(parts)-1]
}

// ReaderRef extracts a (slug, chapter) pair from an arbitrary site URL:
// /reader/{slug}/{n} directly, or /manga/{slug}/.../{n} with a trailing
// chapter number.
func ReaderRef(raw string) (string, int, error) {
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	if m := readerHrefRe.FindStringSubmatch(raw); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			return m[1], n, nil
		}
	}
	if m := mangaSlugRe.FindStringSubmatch(raw); m != nil {
		if num := trailingNumRe.FindStringSubmatch(raw); num != nil {
			n, err := strconv.Atoi(num[1])
			if err == nil {
				return m[1], n, nil
			}
		}
	}
	return "", 0, fmt.Errorf("no reader reference in %q", raw)
}

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// imageSrc reads an image URL from the lazy-loading attributes before the
// plain src, skipping inline data URIs.
func imageSrc(img *goquery.Selection) string {
	for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
		if v, ok := img.Attr(attr); ok && v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

// MangaListPage extracts catalog entries and pagination from a listing page.
func MangaListPage(html, baseURL string, page int) (MangaList, error) {
	doc, err := parse(html)
	if err != nil {
		return MangaList{}, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return MangaList{}, fmt.Errorf("parse base url: %w", err)
	}

	var items []MangaItem
	seen := map[string]bool{}

	// Tier 1: dedicated card markup.
	doc.Find("a.manga-card").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		slug := SlugFromHref(href)
		if slug == "" || seen[slug] {
			return
		}
		seen[slug] = true

		img := a.Find("img").First()
		title := strings.TrimSpace(img.AttrOr("alt", ""))
		if title == "" {
			title = strings.TrimSpace(a.Text())
		}
		if title == "" {
			title = slug
		}
		items = append(items, MangaItem{
			Title: title,
			Slug:  slug,
			URL:   resolve(base, href),
			Cover: img.AttrOr("src", ""),
		})
	})

	// Tier 2: any link into the manga section.
	if len(items) == 0 {
		doc.Find("a[href*='/manga/']").Each(func(_ int, a *goquery.Selection) {
			href := a.AttrOr("href", "")
			slug := SlugFromHref(href)
			if slug == "" || seen[slug] {
				return
			}
			seen[slug] = true

			title := strings.TrimSpace(a.Find("h3, .title, h2").First().Text())
			if title == "" {
				title = strings.TrimSpace(a.Text())
			}
			items = append(items, MangaItem{
				Title: title,
				Slug:  slug,
				URL:   resolve(base, href),
				Cover: imageSrc(a.Find("img").First()),
			})
		})
	}

	pagination := Pagination{Current: page}
	pager := doc.Find("nav[aria-label='الصفحات'], .pagination, .pagenavi").First()
	pager.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		pagination.Pages = append(pagination.Pages, PageLink{
			Page: strings.TrimSpace(a.Text()),
			URL:  resolve(base, a.AttrOr("href", "")),
		})
	})

	out := MangaList{Items: items, Pagination: pagination}
	if len(items) == 0 {
		out.Note = "no items found; markup may have changed"
	}
	return out, nil
}

// MangaDetailPage extracts the series metadata and chapter list.
func MangaDetailPage(html, baseURL, slug string) (MangaDetail, error) {
	doc, err := parse(html)
	if err != nil {
		return MangaDetail{}, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return MangaDetail{}, fmt.Errorf("parse base url: %w", err)
	}

	title := strings.TrimSpace(doc.Find("h1, .title, .entry-title").First().Text())
	if title == "" {
		title = slug
	}

	var desc string
	descEl := doc.Find("p.text-gray-300, .description, .entry-content p").First()
	if descEl.Length() > 0 {
		desc = strings.TrimSpace(descEl.Text())
	} else {
		desc = strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", ""))
	}

	cover := imageSrc(doc.Find("img.cover, .cover img, .thumb img").First())
	if cover != "" {
		cover = resolve(base, cover)
	}

	var tags []string
	doc.Find(".tags span, .genres span, .tag a").Each(func(_ int, t *goquery.Selection) {
		if tag := strings.TrimSpace(t.Text()); tag != "" {
			tags = append(tags, tag)
		}
	})

	var chapters []Chapter
	doc.Find("a[href*='/reader/']").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		m := readerHrefRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		chapters = append(chapters, Chapter{
			Number: m[2],
			URL:    resolve(base, href),
			Title:  strings.TrimSpace(a.Text()),
		})
	})
	if len(chapters) == 0 {
		doc.Find("a[href*='/manga/']").Each(func(_ int, a *goquery.Selection) {
			href := a.AttrOr("href", "")
			m := mangaHrefRe.FindStringSubmatch(href)
			if m == nil {
				return
			}
			chapters = append(chapters, Chapter{
				Number: m[2],
				URL:    resolve(base, href),
				Title:  strings.TrimSpace(a.Text()),
			})
		})
	}

	return MangaDetail{
		Slug:        slug,
		URL:         resolve(base, "/manga/"+slug),
		Title:       title,
		Description: desc,
		Cover:       cover,
		Tags:        tags,
		Chapters:    chapters,
	}, nil
}

// readerContainers are the known wrappers around chapter page images, most
// specific first.
var readerContainers = []string{
	".reader", ".reader-container", ".chapter-images", "#reader", ".rdminimal", ".page",
}

// pathMarkers whitelist image URLs that clearly belong to the site's media
// paths; anything else must look like a numbered page image file.
var pathMarkers = []string{"/reader/", "/manga/", "/uploads/", "/covers/", "/images/"}

// ChapterImages extracts the page image URLs from a reader page, trying
// reader containers, then a bare image scan, then JSON arrays embedded in
// scripts. Results are absolute, deduplicated and filtered for plausibility.
func ChapterImages(html, baseURL string) ([]string, error) {
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var images []string

	// Tier 1: known reader containers.
	for _, sel := range readerContainers {
		doc.Find(sel).First().Find("img").Each(func(_ int, img *goquery.Selection) {
			if src := imageSrc(img); src != "" {
				images = append(images, src)
			}
		})
		if len(images) > 0 {
			break
		}
	}

	// Tier 2: scan every image on the page.
	if len(images) == 0 {
		doc.Find("article img, .page img, .chapter img, img").Each(func(_ int, img *goquery.Selection) {
			if src := imageSrc(img); src != "" {
				images = append(images, src)
			}
		})
	}

	// Tier 3: image arrays embedded in page scripts.
	if len(images) == 0 {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			if len(text) < 20 {
				return true
			}
			if found := jsonImageArrays(text); len(found) > 0 {
				images = append(images, found...)
				return false
			}
			return true
		})
	}

	return cleanImageURLs(images, base), nil
}

var (
	urlArrayRe    = regexp.MustCompile(`\[\s*"https?://[^"]+"(?:\s*,\s*"https?://[^"]+")*\s*\]`)
	imagesFieldRe = regexp.MustCompile(`(?s)["']?images["']?\s*:\s*(\[.*?\])`)
	assignArrayRe = regexp.MustCompile(`(?s)=\s*(\[.*?https?://.*?\])`)
)

// jsonImageArrays scans script text for JSON arrays of image URLs: bare URL
// arrays, an "images" field, or an array assignment.
func jsonImageArrays(text string) []string {
	var found []string

	for _, m := range urlArrayRe.FindAllString(text, -1) {
		var arr []string
		if json.Unmarshal([]byte(m), &arr) == nil {
			found = append(found, arr...)
		}
	}
	for _, m := range imagesFieldRe.FindAllStringSubmatch(text, -1) {
		var arr []string
		if json.Unmarshal([]byte(m[1]), &arr) == nil {
			found = append(found, arr...)
		}
	}
	for _, m := range assignArrayRe.FindAllStringSubmatch(text, -1) {
		var arr []string
		if json.Unmarshal([]byte(m[1]), &arr) == nil {
			found = append(found, arr...)
		}
	}

	seen := map[string]bool{}
	var uniq []string
	for _, u := range found {
		if u != "" && !seen[u] {
			seen[u] = true
			uniq = append(uniq, u)
		}
	}
	return uniq
}

// cleanImageURLs absolutizes, deduplicates and filters candidate image URLs.
func cleanImageURLs(images []string, base *url.URL) []string {
	seen := map[string]bool{}
	var clean []string
	for _, src := range images {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		} else if strings.HasPrefix(src, "/") {
			src = resolve(base, src)
		}

		if !plausibleImage(src) {
			continue
		}
		if !seen[src] {
			seen[src] = true
			clean = append(clean, src)
		}
	}
	return clean
}

func plausibleImage(src string) bool {
	for _, marker := range pathMarkers {
		if strings.Contains(src, marker) {
			return true
		}
	}
	// Page images elsewhere still carry an image extension and a page number.
	return imageExtRe.MatchString(src) && digitRe.MatchString(src)
}
