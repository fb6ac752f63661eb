package steps

import (
	"context"
	"regexp"
	"strings"

	"github.com/dshills/chatpipe/chat"
	"github.com/dshills/chatpipe/pipeline"
)

// suggestion is a phrase that indicates a proposal to do something.
// RE2 has no lookahead, so phrases like "we should not" are rejected by
// a separate unless pattern.
type suggestion struct {
	name       string
	match      *regexp.Regexp
	unless     *regexp.Regexp
	confidence float64
}

func (s suggestion) matches(text string) bool {
	if !s.match.MatchString(text) {
		return false
	}
	return s.unless == nil || !s.unless.MatchString(text)
}

func re(p string) *regexp.Regexp { return regexp.MustCompile(`(?i)` + p) }

var suggestions = []suggestion{
	{"we_should", re(`\bwe should\b`), re(`\bwe should (not|stop|avoid)\b`), 0.9},
	{"lets_go", re(`\blet'?s go\b`), re(`\blet'?s go (home|back|now)\b`), 0.85},
	{"lets_try", re(`\blet'?s try\b`), nil, 0.85},
	{"wanna_go", re(`\bwanna go\b|\bwant to go\b`), nil, 0.85},
	{"should_we", re(`\bshould we\b`), re(`\bshould we (not|stop)\b`), 0.8},
	{"we_could", re(`\bwe could\b`), re(`\bwe could (not|never)\b`), 0.7},
	{"i_want_to", re(`\bi want to\b`), re(`\bi want to (die|cry|leave)\b`), 0.6},
	{"we_need_to", re(`\bwe need to\b`), re(`\bwe need to (stop|avoid)\b`), 0.6},
	{"bucket_list", re(`\bbucket ?list\b`), nil, 0.95},
	{"must_visit", re(`\bmust visit\b|\bmust go\b|\bhave to visit\b`), nil, 0.9},
	{"would_be_fun", re(`\bwould be (fun|cool|nice)\b`), nil, 0.75},
	{"one_day", re(`\bone day\b.*\b(go|visit|try|do|see)\b`), nil, 0.7},
	{"next_time", re(`\bnext time\b.*\b(go|visit|try|do|see|should)\b`), nil, 0.7},
	{"lets_do", re(`\blet'?s do\b`), nil, 0.8},
	{"come_back", re(`\bcome back\b.*\b(and|to)\b`), nil, 0.65},
	{"looks_fun", re(`\blooks? (fun|amazing|awesome|incredible|beautiful)\b`), nil, 0.5},
	{"can_we", re(`\bcan we\b.*\b(go|try|do|visit|see)\b`), nil, 0.75},
}

var activityKeywords = re(strings.Join([]string{
	`\b(restaurant|cafe|coffee|bar|pub|brewery|winery|vineyard)\b`,
	`\b(beach|lake|river|waterfall|hot springs?|pool)\b`,
	`\b(hike|walk|trail|track|trek)\b`,
	`\b(mountain|hill|volcano|summit|peak)\b`,
	`\b(park|garden|reserve|sanctuary|forest)\b`,
	`\b(museum|gallery|exhibition|art)\b`,
	`\b(market|farmers market|night market)\b`,
	`\b(concert|show|theatre|movie|cinema|festival|event)\b`,
	`\b(hotel|airbnb|bach|accommodation|camping|glamping)\b`,
	`\b(kayak|paddleboard|surf|dive|snorkel|swim)\b`,
	`\b(ski|snowboard|bungy|skydive|zipline)\b`,
	`\b(tour|cruise|trip|getaway|holiday|vacation|road trip)\b`,
}, "|"))

var exclusions = []*regexp.Regexp{
	re(`\b(work|job|meeting|email|call|pay|bill|tax)\b`),
	re(`\b(doctor|dentist|hospital|appointment)\b`),
	re(`\b(groceries|shopping|buy|sell|order)\b`),
	re(`\b(clean|laundry|dishes|vacuum)\b`),
	re(`\b(should not|shouldn't|can't|cannot)\b`),
}

// urlConfidence is the base confidence of a link by category. Categories
// missing from the map never make a candidate on their own.
var urlConfidence = map[string]float64{
	chat.URLGoogleMaps:  0.7,
	chat.URLAirbnb:      0.8,
	chat.URLBooking:     0.8,
	chat.URLTripAdvisor: 0.75,
	chat.URLEvent:       0.85,
	chat.URLTikTok:      0.5,
	chat.URLYouTube:     0.4,
}

var urlBoostPhrases = []string{
	"let's go", "we should", "wanna go", "want to go", "should we",
	"check this out", "look at this", "this looks", "bucket list",
}

// Scan selects the messages worth classifying.
//
// A message qualifies through a suggestion phrase (unless it also mentions
// chores, work or negation) or through a link to a place, booking or event.
// Activity keywords raise confidence. Each message yields at most one
// candidate, preferring the phrase match.
func Scan(messages []chat.Message) ([]Candidate, ScanStats) {
	stats := ScanStats{Messages: len(messages)}
	candidates := []Candidate{}

	for _, m := range messages {
		if m.Content == "" || m.HasMedia {
			continue
		}
		if c, ok := phraseCandidate(m); ok {
			candidates = append(candidates, c)
			stats.Regex++
			continue
		}
		if excluded(m.Content) && len(m.URLs) == 0 {
			stats.Excluded++
			continue
		}
		if c, ok := urlCandidate(m); ok {
			candidates = append(candidates, c)
			stats.URL++
		}
	}
	stats.Candidates = len(candidates)
	return candidates, stats
}

func excluded(text string) bool {
	for _, p := range exclusions {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func phraseCandidate(m chat.Message) (Candidate, bool) {
	if excluded(m.Content) {
		return Candidate{}, false
	}
	for _, s := range suggestions {
		if !s.matches(m.Content) {
			continue
		}
		conf := s.confidence
		if activityKeywords.MatchString(m.Content) {
			conf += 0.15
		}
		return newCandidate(m, "regex:"+s.name, conf), true
	}
	return Candidate{}, false
}

func urlCandidate(m chat.Message) (Candidate, bool) {
	best, bestType := -1.0, ""
	for _, u := range m.URLs {
		kind := chat.ClassifyURL(u)
		conf, ok := urlConfidence[kind]
		if !ok {
			continue
		}
		// A bare video link with no commentary is usually just entertainment.
		if (kind == chat.URLTikTok || kind == chat.URLYouTube) && strings.TrimSpace(m.Content) == u {
			continue
		}
		if conf > best {
			best, bestType = conf, kind
		}
	}
	if bestType == "" {
		return Candidate{}, false
	}

	lower := strings.ToLower(m.Content)
	for _, phrase := range urlBoostPhrases {
		if strings.Contains(lower, phrase) {
			best += 0.25
			break
		}
	}
	if activityKeywords.MatchString(m.Content) {
		best += 0.1
	}
	return newCandidate(m, "url:"+bestType, best), true
}

func newCandidate(m chat.Message, source string, conf float64) Candidate {
	if conf > 1 {
		conf = 1
	}
	return Candidate{
		MessageID:  m.ID,
		Sender:     m.Sender,
		Timestamp:  m.Timestamp,
		Content:    m.Content,
		URLs:       m.URLs,
		Source:     source,
		Confidence: conf,
	}
}

func runParse(ctx context.Context, sc *pipeline.StepContext) (any, error) {
	return pipeline.Cached(ctx, sc, StageMessages, func(ctx context.Context) ([]chat.Message, error) {
		return chat.ParseFile(sc.RunInfo.InputPath)
	})
}

func runScan(ctx context.Context, sc *pipeline.StepContext) (any, error) {
	return pipeline.CachedWithMarker(ctx, sc, StageScan, func(ctx context.Context) ([]Candidate, ScanStats, error) {
		messages, err := pipeline.Await[[]chat.Message](ctx, sc, StepParse)
		if err != nil {
			return nil, ScanStats{}, err
		}
		candidates, stats := Scan(messages)
		return candidates, stats, nil
	})
}
