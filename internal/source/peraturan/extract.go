package peraturan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	totalCountRe = regexp.MustCompile(`(?i)(\d+)\s*Perda\s*ditemukan`)
	yearRe       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	numberRe     = regexp.MustCompile(`(?i)(?:Nomor|No\.?)\s*([\d\s]+?)(?:\s+Tahun|$)`)
	trailingNoRe = regexp.MustCompile(`\s*\d+\s*(?:Tahun\s*\d+)?$`)
)

// regionTypes in match priority order. "DKI" and "Daerah Khusus" cover
// Jakarta's special-region naming.
var regionTypes = []string{"Provinsi", "Kabupaten", "Kota", "Daerah Khusus", "DKI"}

// regionRes maps each region type to its name-capture pattern, built once.
var regionRes = func() map[string]*regexp.Regexp {
	res := make(map[string]*regexp.Regexp, len(regionTypes))
	for _, kind := range regionTypes {
		res[kind] = regexp.MustCompile(
			fmt.Sprintf(`(?i)%s\s+([^\n]+?)(?:\s+Nomor|\s+No\.|$)`, regexp.QuoteMeta(kind)))
	}
	return res
}()

// regionFallbackRes recover a region name when no type keyword is present.
var regionFallbackRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:Perda|Peraturan Daerah)\s+([A-Za-z\s]+?)(?:\s+Nomor|\s+No\.)`),
	regexp.MustCompile(`(?i)(?:dari|di)\s+([A-Za-z\s]+?)(?:\s+tentang|\s+Nomor)`),
}

type regionInfo struct {
	name string
	kind string
}

const extractCacheCap = 256

// extractor memoizes year and region extraction per session. Titles repeat
// heavily across retried pages, and the region regexes are not cheap. Each
// session is single-goroutine so no locking is needed.
type extractor struct {
	years   map[string]int
	regions map[string]regionInfo
}

func newExtractor() *extractor {
	return &extractor{
		years:   make(map[string]int),
		regions: make(map[string]regionInfo),
	}
}

// year pulls the first plausible regulation year out of a title, or 0.
func (e *extractor) year(text string) int {
	if text == "" {
		return 0
	}
	if y, ok := e.years[text]; ok {
		return y
	}
	y := 0
	if m := yearRe.FindStringSubmatch(text); m != nil {
		y, _ = strconv.Atoi(m[1])
	}
	if len(e.years) < extractCacheCap {
		e.years[text] = y
	}
	return y
}

// region extracts the region type and name from a regulation title.
func (e *extractor) region(text string) regionInfo {
	if text == "" {
		return regionInfo{}
	}
	if info, ok := e.regions[text]; ok {
		return info
	}

	info := extractRegion(text)
	if len(e.regions) < extractCacheCap {
		e.regions[text] = info
	}
	return info
}

func extractRegion(text string) regionInfo {
	var info regionInfo
	lower := strings.ToLower(text)

	for _, kind := range regionTypes {
		if !strings.Contains(lower, strings.ToLower(kind)) {
			continue
		}
		info.kind = kind
		if m := regionRes[kind].FindStringSubmatch(text); m != nil {
			name := strings.TrimSpace(m[1])
			name = strings.TrimSpace(trailingNoRe.ReplaceAllString(name, ""))
			info.name = name
		}
		break
	}

	if info.name == "" {
		for _, re := range regionFallbackRes {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			name := strings.TrimSpace(m[1])
			for _, kind := range regionTypes {
				if strings.HasPrefix(strings.ToLower(name), strings.ToLower(kind)) {
					name = strings.TrimSpace(name[len(kind):])
					info.kind = kind
					break
				}
			}
			info.name = name
			break
		}
	}
	return info
}

// extractNumber pulls the regulation number out of a title, e.g.
// "Nomor 7 Tahun 2019" yields "7".
func extractNumber(title string) string {
	if m := numberRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
