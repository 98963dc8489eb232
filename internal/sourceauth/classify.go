// Package sourceauth classifies data sources into the source hierarchy and scores how far
// their content can be trusted.
package sourceauth

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

// AuthorityScores is the fixed authority per tier of the source hierarchy.
var AuthorityScores = map[models.SourceType]int{
	models.SourcePaidAPI:      10,
	models.SourceGovernment:   8,
	models.SourcePeerReviewed: 6,
	models.SourceIndustry:     4,
	models.SourceCompany:      2,
	models.SourceNews:         1,
	models.SourceUnknown:      0,
}

// paidAPIProviders are LLM and data vendors whose responses count as paid_api sources.
var paidAPIProviders = map[string]struct{}{
	"openai":     {},
	"anthropic":  {},
	"gemini":     {},
	"google":     {},
	"perplexity": {},
	"mistral":    {},
	"cohere":     {},
	"deepseek":   {},
	"grok":       {},
	"xai":        {},
}

var paidAPIHosts = map[string]struct{}{
	"api.openai.com":                    {},
	"api.anthropic.com":                 {},
	"generativelanguage.googleapis.com": {},
	"api.perplexity.ai":                 {},
	"api.mistral.ai":                    {},
	"api.cohere.ai":                     {},
	"api.deepseek.com":                  {},
	"api.x.ai":                          {},
}

var (
	governmentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\.gov$`),
		regexp.MustCompile(`(^|\.)gov\.[a-z]{2}$`),
		regexp.MustCompile(`\.go\.jp$`),
		regexp.MustCompile(`\.gc\.ca$`),
		regexp.MustCompile(`(^|\.)europa\.eu$`),
		regexp.MustCompile(`(^|\.)who\.int$`),
	}

	peerReviewedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(^|\.)(nature|thelancet|jamanetwork|cell|sciencedirect|springer|wiley|tandfonline|frontiersin|mdpi|biomedcentral|cochranelibrary|sagepub)\.com$`),
		regexp.MustCompile(`(^|\.)(nejm|bmj|plos|science|doi|academic\.oup)\.(com|org)$`),
		regexp.MustCompile(`(^|\.)(ahajournals|annals|aacrjournals|ascopubs)\.org$`),
	}

	industryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(^|\.)(phrma|bio|ifpma|efpia|ispor|diaglobal)\.org$`),
		regexp.MustCompile(`(^|\.)(iqvia|evaluate|fiercepharma|fiercebiotech|biopharmadive|pharmaceutical-technology|drugs|medscape|globaldata|citeline)\.com$`),
	}

	companyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(^|\.)(pfizer|novartis|roche|merck|msd|gsk|astrazeneca|sanofi|jnj|abbvie|bms|lilly|amgen|gilead|bayer|novonordisk|takeda|boehringer-ingelheim|modernatx|biogen|regeneron|vrtx|teva)\.(com|ch|de|co\.jp)$`),
	}

	newsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(^|\.)(reuters|bloomberg|nytimes|wsj|cnbc|statnews|apnews|washingtonpost|forbes|cnn|endpts|axios)\.com$`),
		regexp.MustCompile(`(^|\.)(bbc|theguardian|ft)\.(com|co\.uk)$`),
	}
)

// classifier assigns a source type when its predicate holds.
type classifier struct {
	sourceType models.SourceType
	matches    func(ref models.SourceReference, host string) bool
}

// classifiers are evaluated in hierarchy order; the first match wins.
var classifiers = []classifier{
	{models.SourcePaidAPI, isPaidAPI},
	{models.SourceGovernment, hostMatches(governmentPatterns)},
	{models.SourcePeerReviewed, hostMatches(peerReviewedPatterns)},
	{models.SourceIndustry, hostMatches(industryPatterns)},
	{models.SourceCompany, hostMatches(companyPatterns)},
	{models.SourceNews, hostMatches(newsPatterns)},
}

func isPaidAPI(ref models.SourceReference, host string) bool {
	if _, ok := paidAPIProviders[strings.ToLower(strings.TrimSpace(ref.Provider))]; ok {
		return true
	}

	_, ok := paidAPIHosts[host]

	return ok
}

func hostMatches(patterns []*regexp.Regexp) func(models.SourceReference, string) bool {
	return func(_ models.SourceReference, host string) bool {
		if host == "" {
			return false
		}

		for _, p := range patterns {
			if p.MatchString(host) {
				return true
			}
		}

		return false
	}
}

// Classify returns the source type for a reference whose host was already extracted.
func Classify(ref models.SourceReference, host string) models.SourceType {
	for _, c := range classifiers {
		if c.matches(ref, host) {
			return c.sourceType
		}
	}

	return models.SourceUnknown
}

// Host extracts the lower-cased host of a source URL without a leading "www.".
// Bare domains without a scheme are accepted.
func Host(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", nil
	}

	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", huberrors.NewValidationError("source_reference.url", "source_reference.url is not a valid URL")
	}

	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."), nil
}

// domainListed reports whether host equals a listed domain or is a subdomain of one.
func domainListed(host string, domains []string) bool {
	if host == "" {
		return false
	}

	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}

	return false
}
