package sourceauth

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/models"
)

// Score constants.
const (
	baseCredibility      = 0.5
	credentialsBonus     = 0.1
	journalBonus         = 0.15
	doiBonus             = 0.1
	unknownDateRecency   = 0.5
	staleRecency         = 0.1
	verifiedAuthority    = 6
	verifiedCredibility  = 0.7
	flaggedCredibility   = 0.4
	flaggedUnknownRecent = 0.3
)

// DefaultWhitelist is always trusted in addition to configured domains.
var DefaultWhitelist = []string{"fda.gov", "ema.europa.eu", "who.int", "nih.gov", "clinicaltrials.gov"}

// recencyBuckets map publication age to a score; each bound is exclusive.
var recencyBuckets = []struct {
	belowDays float64
	score     float64
}{
	{30, 1.0},
	{90, 0.9},
	{180, 0.7},
	{365, 0.5},
	{730, 0.3},
}

var typeCredibilityBonus = map[models.SourceType]float64{
	models.SourceGovernment:   0.3,
	models.SourcePeerReviewed: 0.25,
	models.SourcePaidAPI:      0.2,
	models.SourceIndustry:     0.1,
	models.SourceCompany:      0.05,
}

var credentialKeywords = map[string]struct{}{
	"md": {}, "phd": {}, "pharmd": {}, "mph": {}, "dds": {}, "rn": {}, "dr": {},
	"prof": {}, "professor": {}, "frcp": {}, "facp": {}, "fellow": {},
}

var prestigiousJournals = []string{
	"new england journal of medicine", "nejm", "lancet", "nature", "science",
	"jama", "bmj", "cell", "annals of internal medicine", "plos medicine",
}

var doiPattern = regexp.MustCompile(`10\.\d{4,9}/\S+`)

var statusMultipliers = map[models.VerificationStatus]float64{
	models.VerificationVerified:   1.0,
	models.VerificationUnverified: 0.8,
	models.VerificationFlagged:    0.5,
	models.VerificationBlocked:    0,
}

// statusInput is what the verification rules look at.
type statusInput struct {
	host        string
	sourceType  models.SourceType
	authority   int
	credibility float64
	recency     float64
}

type statusRule struct {
	status  models.VerificationStatus
	note    string
	matches func(a *Authenticator, in statusInput) bool
}

// statusRules are evaluated in order; no match means unverified.
var statusRules = []statusRule{
	{
		status:  models.VerificationBlocked,
		note:    "domain is blacklisted",
		matches: func(a *Authenticator, in statusInput) bool { return domainListed(in.host, a.blacklist) },
	},
	{
		status:  models.VerificationVerified,
		note:    "domain is whitelisted",
		matches: func(a *Authenticator, in statusInput) bool { return domainListed(in.host, a.whitelist) },
	},
	{
		status: models.VerificationVerified,
		note:   "authoritative source with strong credibility",
		matches: func(_ *Authenticator, in statusInput) bool {
			return in.authority >= verifiedAuthority && in.credibility >= verifiedCredibility
		},
	},
	{
		status: models.VerificationFlagged,
		note:   "low credibility or stale unknown source",
		matches: func(_ *Authenticator, in statusInput) bool {
			return in.credibility < flaggedCredibility ||
				(in.sourceType == models.SourceUnknown && in.recency <= flaggedUnknownRecent)
		},
	},
}

// Authenticator scores source references. It is safe for concurrent use.
type Authenticator struct {
	whitelist []string
	blacklist []string
	now       func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithWhitelist adds trusted domains.
func WithWhitelist(domains ...string) Option {
	return func(a *Authenticator) { a.whitelist = append(a.whitelist, normalizeDomains(domains)...) }
}

// WithBlacklist adds blocked domains.
func WithBlacklist(domains ...string) Option {
	return func(a *Authenticator) { a.blacklist = append(a.blacklist, normalizeDomains(domains)...) }
}

// WithClock overrides the time source used for recency.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))

	for _, d := range domains {
		if d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www."); d != "" {
			out = append(out, d)
		}
	}

	return out
}

// New creates an Authenticator with the default whitelist.
func New(opts ...Option) *Authenticator {
	a := &Authenticator{
		whitelist: append([]string(nil), DefaultWhitelist...),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Authenticate classifies a source reference and computes its scores and verification status.
func (a *Authenticator) Authenticate(ref models.SourceReference, processID string) (*models.SourceAuthenticationResult, error) {
	host, err := Host(ref.URL)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	sourceType := Classify(ref, host)
	authority := AuthorityScores[sourceType]
	recency := RecencyScore(ref.PublishedDate, now)
	credibility := CredibilityScore(ref, sourceType, host)

	notes := []string{fmt.Sprintf("classified as %s", sourceType)}

	in := statusInput{
		host:        host,
		sourceType:  sourceType,
		authority:   authority,
		credibility: credibility,
		recency:     recency,
	}

	status := models.VerificationUnverified

	for _, rule := range statusRules {
		if rule.matches(a, in) {
			status = rule.status
			notes = append(notes, rule.note)

			break
		}
	}

	return &models.SourceAuthenticationResult{
		ID:                 uuid.Must(uuid.NewV7()),
		ProcessID:          processID,
		SourceReference:    ref,
		Domain:             host,
		SourceType:         sourceType,
		AuthorityScore:     authority,
		RecencyScore:       recency,
		CredibilityScore:   credibility,
		VerificationStatus: status,
		ConfidenceScore:    ConfidenceScore(authority, credibility, recency, status),
		Notes:              notes,
		AuthenticatedAt:    now,
	}, nil
}

// RecencyScore maps publication age to a score. Exactly 30 days old scores 0.9.
// Unknown dates score 0.5 and future dates 1.0.
func RecencyScore(published *time.Time, now time.Time) float64 {
	if published == nil || published.IsZero() {
		return unknownDateRecency
	}

	age := now.Sub(*published).Hours() / 24
	for _, b := range recencyBuckets {
		if age < b.belowDays {
			return b.score
		}
	}

	return staleRecency
}

// CredibilityScore starts from 0.5, adds fixed bonuses and averages with any supplied credibility.
func CredibilityScore(ref models.SourceReference, sourceType models.SourceType, host string) float64 {
	score := baseCredibility + typeCredibilityBonus[sourceType]

	if hasCredentials(ref.AuthorCredentials) {
		score += credentialsBonus
	}

	if isPrestigiousJournal(ref.Journal) {
		score += journalBonus
	}

	if hasDOI(ref, host) {
		score += doiBonus
	}

	score = min(1, score)

	if ref.CredibilityScore != nil {
		score = (score + *ref.CredibilityScore) / 2
	}

	return min(1, max(0, score))
}

func hasCredentials(credentials string) bool {
	words := strings.FieldsFunc(strings.ToLower(strings.ReplaceAll(credentials, ".", "")), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, w := range words {
		if _, ok := credentialKeywords[w]; ok {
			return true
		}
	}

	return false
}

func isPrestigiousJournal(journal string) bool {
	j := strings.ToLower(journal)
	if j == "" {
		return false
	}

	for _, name := range prestigiousJournals {
		if strings.Contains(j, name) {
			return true
		}
	}

	return false
}

func hasDOI(ref models.SourceReference, host string) bool {
	return strings.TrimSpace(ref.DOI) != "" || host == "doi.org" || host == "dx.doi.org" || doiPattern.MatchString(ref.URL)
}

// ConfidenceScore combines the three scores, scales by the status multiplier and clamps to [0, 1].
func ConfidenceScore(authority int, credibility, recency float64, status models.VerificationStatus) float64 {
	raw := 0.4*float64(authority)/10 + 0.3*credibility + 0.2*recency + 0.1

	return min(1, max(0, raw*statusMultipliers[status]))
}
