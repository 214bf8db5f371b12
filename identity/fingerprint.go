package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"rfp_scout/models"
)

var (
	agencyWords = map[string]string{
		"department":     "dept",
		"administration": "admin",
		"agency":         "agcy",
		"office":         "ofc",
		"command":        "cmd",
		"center":         "ctr",
		"service":        "svc",
		"services":       "svcs",
		"national":       "natl",
		"federal":        "fed",
		"of":             "",
		"the":            "",
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// Fingerprint identifies the same solicitation posted under different notice
// ids (amendments, reposts by another office).
func Fingerprint(opp *models.Opportunity) string {
	input := fmt.Sprintf("%s|%s|%s",
		NormalizeText(opp.Title),
		NormalizeAgency(opp.Agency),
		strings.ToLower(strings.TrimSpace(opp.SolicitationNumber)),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeText lowercases s, drops punctuation and collapses whitespace.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func NormalizeAgency(agency string) string {
	agency = strings.ReplaceAll(NormalizeText(agency), "united states", "us")
	words := strings.Fields(agency)
	out := words[:0]
	for _, w := range words {
		if abbrev, ok := agencyWords[w]; ok {
			w = abbrev
		}
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}
