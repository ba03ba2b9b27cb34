package imot

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/man0l/real-estate-analyzer/config"
	"github.com/man0l/real-estate-analyzer/models"
)

const siteBase = "https://www.imot.bg/"

var (
	rePrice       = regexp.MustCompile(`(\d+(?:[\s,]\d+)*)\s*EUR`)
	rePricePerSqm = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*EUR/m2`)
	reArea        = regexp.MustCompile(`(?s)Площ:\s*(\d+)`)
	reFloor       = regexp.MustCompile(`(\d+)-ти от (\d+)`)
	reConstr      = regexp.MustCompile(`Строителство:\s*(.*?),\s*(\d{4})\s*г\.?`)
	reConstrAlt   = regexp.MustCompile(`Строителство:\s*([^,\n]+)`)
	reViews       = regexp.MustCompile(`Обявата е посетена (\d+) пъти`)
	reModified    = regexp.MustCompile(`Коригирана в \d+:\d+ на [^,]+, \d{4}`)
	reMonthly     = regexp.MustCompile(`Купи само за (\d+) €/месец`)
	reAdvID       = regexp.MustCompile(`adv=([^&]+)`)
	rePhotoSrc    = regexp.MustCompile(`photos.*\.jpg`)
	reAvgPrice    = regexp.MustCompile(`(\d+)\s*euro`)
	reTotal       = regexp.MustCompile(`от общо (\d+)`)
	rePropType    = regexp.MustCompile(`(\d-СТАЕН)`)
	reCritLoc     = regexp.MustCompile(`Местоположение:\s*([^,]+)`)
	reCritDist    = regexp.MustCompile(`Под район:\s*([^,]+)`)
)

// Extractor turns rendered detail-page markup into a partial Property.
// Every field is extracted independently: a pattern that finds nothing
// leaves the field unset and never aborts the other fields.
type Extractor struct {
	heuristics *config.Heuristics
}

// NewExtractor creates an Extractor with the given seller heuristics.
func NewExtractor(h *config.Heuristics) *Extractor {
	if h == nil {
		h = config.DefaultHeuristics()
	}
	return &Extractor{heuristics: h}
}

// ExtractDetail parses a detail page into a Property. The returned record
// always carries the id and url; everything else is best effort.
func (e *Extractor) ExtractDetail(doc *goquery.Document, id, pageURL string) *models.Property {
	p := &models.Property{ID: id, URL: pageURL}
	text := doc.Text()

	p.Type = strings.TrimSpace(doc.Find("h1").First().Text())

	e.extractLocation(doc, p)
	e.extractPrice(doc, text, p)
	e.extractArea(text, p)
	e.extractFloor(text, p)
	e.extractConstruction(doc, p)
	e.extractHeating(doc, p)

	p.Description = strings.TrimSpace(doc.Find("#description_div").Text())

	e.extractFeatures(doc, p)
	e.extractContact(doc, p)

	if m := reViews.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p.Views = &n
		}
	}
	p.LastModified = strings.TrimSpace(reModified.FindString(text))

	e.extractImages(doc, p)

	if m := reMonthly.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p.MonthlyPayment = &models.MonthlyPayment{Value: n, Currency: "EUR"}
		}
	}

	return p
}

func (e *Extractor) extractLocation(doc *goquery.Document, p *models.Property) {
	heading := strings.TrimSpace(doc.Find("h2").First().Text())
	if strings.Contains(heading, "град София") {
		district := strings.TrimSpace(strings.Replace(heading, "град София,", "", 1))
		p.Location = &models.Location{City: "град София", District: district}
	}
}

func (e *Extractor) extractPrice(doc *goquery.Document, text string, p *models.Property) {
	if m := rePrice.FindStringSubmatch(text); m != nil {
		raw := strings.NewReplacer(" ", "", ",", "", " ", "").Replace(m[1])
		value, err := strconv.Atoi(raw)
		if err != nil {
			return
		}

		includesVAT := false
		next := doc.Find("span#cenakv").Next()
		if strings.Contains(next.Text(), "Цената е с включено ДДС") {
			includesVAT = true
		}

		p.Price = &models.Price{Value: value, Currency: "EUR", IncludesVAT: includesVAT}
	}

	if m := rePricePerSqm.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.PricePerSqm = &v
		}
	}
}

// extractArea reads the labeled area, then falls back to deriving it from
// the total price and the price per square meter.
func (e *Extractor) extractArea(text string, p *models.Property) {
	if m := reArea.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p.AreaM2 = &n
			return
		}
	}

	if p.Price != nil && p.PricePerSqm != nil && *p.PricePerSqm > 0 {
		area := int(math.Round(float64(p.Price.Value) / *p.PricePerSqm))
		p.AreaM2 = &area
		p.AreaCalculated = true
	}
}

func (e *Extractor) extractFloor(text string, p *models.Property) {
	m := reFloor.FindStringSubmatch(text)
	if m == nil {
		return
	}
	current, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return
	}
	p.Floor = &models.FloorInfo{Current: current, Total: total}
}

func (e *Extractor) extractConstruction(doc *goquery.Document, p *models.Property) {
	label := innermostText(doc, "Строителство:")
	if label == "" {
		return
	}

	if m := reConstr.FindStringSubmatch(label); m != nil {
		year, err := strconv.Atoi(m[2])
		if err != nil {
			return
		}
		p.Construction = &models.Construction{Type: strings.TrimSpace(m[1]), Year: &year}
		return
	}

	// Alternative format without a year suffix.
	if m := reConstrAlt.FindStringSubmatch(label); m != nil {
		ctype := strings.TrimSpace(m[1])
		if ctype != "" {
			p.Construction = &models.Construction{Type: ctype}
		}
	}
}

func (e *Extractor) extractHeating(doc *goquery.Document, p *models.Property) {
	label := innermostText(doc, "ТЕЦ:")
	if label == "" {
		return
	}
	has := strings.Contains(label, "ДА")
	p.CentralHeating = &has
}

// extractFeatures reads the feature list and applies the private-seller
// heuristic: any positive signal from the description, a feature token, or
// the broker name flips the flag, appends the synthetic feature once, and
// the flag never resets within the pass.
func (e *Extractor) extractFeatures(doc *goquery.Document, p *models.Property) {
	h := e.heuristics

	descLower := strings.ToLower(p.Description)
	for _, phrase := range h.DescriptionPhrases {
		if strings.Contains(descLower, phrase) {
			e.markPrivateSeller(p)
			break
		}
	}

	if label := innermostText(doc, "Особености:"); label != "" {
		raw := strings.Replace(label, "Особености:", "", 1)
		for _, f := range strings.Split(raw, ",") {
			f = strings.TrimSpace(f)
			if f == "" || containsFeature(p.Features, f) {
				continue
			}
			p.Features = append(p.Features, f)
			if matchesAny(strings.ToLower(f), h.FeatureTokens) {
				e.markPrivateSeller(p)
			}
		}
	}
}

func (e *Extractor) extractContact(doc *goquery.Document, p *models.Property) {
	contact := models.Contact{}

	if label := innermostText(doc, "Брокер:"); label != "" {
		contact.BrokerName = strings.TrimSpace(strings.Replace(label, "Брокер:", "", 1))
		if contact.BrokerName == "" || matchesAny(strings.ToLower(contact.BrokerName), e.heuristics.FeatureTokens) {
			e.markPrivateSeller(p)
		}
	}
	if label := innermostText(doc, "Телефон:"); label != "" {
		contact.Phone = strings.TrimSpace(strings.Replace(label, "Телефон:", "", 1))
	}

	if contact.BrokerName != "" || contact.Phone != "" {
		p.Contact = &contact
	}
}

func (e *Extractor) extractImages(doc *goquery.Document, p *models.Property) {
	seen := make(map[string]struct{})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || !rePhotoSrc.MatchString(src) {
			return
		}
		abs := resolveURL(src)
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		p.Images = append(p.Images, abs)
	})
	p.ImageCount = len(p.Images)
}

func (e *Extractor) markPrivateSeller(p *models.Property) {
	p.PrivateSeller = true
	if !containsFeature(p.Features, e.heuristics.PrivateSellerFeature) {
		p.Features = append(p.Features, e.heuristics.PrivateSellerFeature)
	}
}

// ExtractMetadata reads the crawl-run aggregates from a list page: the
// average price per square meter, the total listing count and the search
// criteria summary.
func ExtractMetadata(doc *goquery.Document) models.SearchMetadata {
	meta := models.SearchMetadata{}
	text := doc.Text()

	if idx := strings.Index(text, "Средна цена на кв.м"); idx >= 0 {
		if m := reAvgPrice.FindStringSubmatch(text[idx:]); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				meta.AvgPricePerSqm = n
			}
		}
	}

	if m := reTotal.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			meta.TotalListings = n
		}
	}

	if label := innermostText(doc, "Резултат от Вашето търсене"); label != "" {
		if strings.Contains(label, "Вид имот:") {
			meta.SearchCriteria.PropertyTypes = rePropType.FindAllString(label, -1)
		}
		if m := reCritLoc.FindStringSubmatch(label); m != nil {
			meta.SearchCriteria.Location = strings.TrimSpace(m[1])
		}
		if m := reCritDist.FindStringSubmatch(label); m != nil {
			meta.SearchCriteria.District = strings.TrimSpace(m[1])
		}
	}

	return meta
}

// TotalPages derives the page count from the pagination control: the
// largest numeric page link, defaulting to 1 when there is none.
func TotalPages(doc *goquery.Document) int {
	total := 1
	doc.Find(`a[href*="f1="]`).Each(func(_ int, s *goquery.Selection) {
		n, err := strconv.Atoi(strings.TrimSpace(s.Text()))
		if err == nil && n > total {
			total = n
		}
	})
	return total
}

// ListingLinks finds the detail-page links on a list page, resolved to
// absolute URLs, in document order and without duplicates.
func ListingLinks(doc *goquery.Document) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find(`a[href*="act=5"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		abs := resolveURL(href)
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// PropertyID parses the stable source-assigned listing id out of a detail
// URL.
func PropertyID(detailURL string) (string, error) {
	m := reAdvID.FindStringSubmatch(detailURL)
	if m == nil {
		return "", fmt.Errorf("imot: no adv id in %q", detailURL)
	}
	return m[1], nil
}

// innermostText returns the text of the deepest element containing label,
// mirroring a text-node search followed by a parent lookup.
func innermostText(doc *goquery.Document, label string) string {
	sel := doc.Find(fmt.Sprintf(`*:contains(%q)`, label))
	if sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(sel.Last().Text())
}

func resolveURL(href string) string {
	base, _ := url.Parse(siteBase)
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func containsFeature(features []string, f string) bool {
	for _, existing := range features {
		if existing == f {
			return true
		}
	}
	return false
}

func matchesAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
