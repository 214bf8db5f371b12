package source

import (
	"strings"

	"rfp_scout/identity"
	"rfp_scout/models"
)

// MatchKeywords keeps opportunities whose title or description mentions at
// least one keyword. An empty keyword list keeps everything.
func MatchKeywords(opps []models.Opportunity, keywords []string) []models.Opportunity {
	if len(keywords) == 0 {
		return opps
	}
	var out []models.Opportunity
	for _, opp := range opps {
		if containsAny(opp, keywords) {
			out = append(out, opp)
		}
	}
	return out
}

// Filter drops excluded and off-NAICS opportunities, removes duplicates by
// notice id and then by fingerprint, and caps the result at q.MaxItems.
// Input order is preserved.
func Filter(opps []models.Opportunity, q Query) []models.Opportunity {
	naics := make(map[string]bool, len(q.IncludeNAICS))
	for _, code := range q.IncludeNAICS {
		naics[strings.TrimSpace(code)] = true
	}

	seenIDs := make(map[string]bool)
	seenPrints := make(map[string]bool)
	var out []models.Opportunity

	for _, opp := range opps {
		if opp.NoticeID == "" || seenIDs[opp.NoticeID] {
			continue
		}
		if containsAny(opp, q.ExcludeKeywords) {
			continue
		}
		// Notices without a NAICS code are kept; the feed omits it on many
		// special notices.
		if len(naics) > 0 && opp.NAICSCode != "" && !naics[opp.NAICSCode] {
			continue
		}

		fp := identity.Fingerprint(&opp)
		if seenPrints[fp] {
			continue
		}
		seenIDs[opp.NoticeID] = true
		seenPrints[fp] = true

		out = append(out, opp)
		if q.MaxItems > 0 && len(out) >= q.MaxItems {
			break
		}
	}
	return out
}

func containsAny(opp models.Opportunity, keywords []string) bool {
	title := strings.ToLower(opp.Title)
	desc := strings.ToLower(opp.Description)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) || strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}
