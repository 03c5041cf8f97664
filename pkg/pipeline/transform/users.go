package transform

import (
	"sort"
	"strings"

	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// fuzzyThreshold is the minimum token-set similarity for a fuzzy match.
const fuzzyThreshold = 0.8

// MapUsers matches source users against destination org members in priority
// order: email equality, case-insensitive username equality, normalized name
// equality, then token similarity. Anything below the fuzzy threshold is
// unmapped.
func MapUsers(sourceUsers []sourceclient.Member, destMembers []destclient.OrgMember) UserMappingResult {
	result := UserMappingResult{UnmappedUsers: []string{}}

	byEmail := map[string]string{}
	byLogin := map[string]string{}
	byName := map[string]string{}
	for _, m := range destMembers {
		if m.Email != "" {
			byEmail[strings.ToLower(m.Email)] = m.Login
		}
		byLogin[strings.ToLower(m.Login)] = m.Login
		if m.Name != "" {
			byName[normalizeName(m.Name)] = m.Login
		}
	}

	seen := map[string]bool{}
	for _, u := range sourceUsers {
		if seen[u.Username] {
			continue
		}
		seen[u.Username] = true

		mapping := UserMapping{
			SourceUsername: u.Username,
			SourceEmail:    u.Email,
			SourceName:     u.Name,
			Confidence:     ConfidenceUnmapped,
			Method:         MethodNone,
		}

		switch {
		case u.Email != "" && byEmail[strings.ToLower(u.Email)] != "":
			mapping.DestinationLogin = byEmail[strings.ToLower(u.Email)]
			mapping.Confidence = ConfidenceHigh
			mapping.Method = MethodEmail
		case byLogin[strings.ToLower(u.Username)] != "":
			mapping.DestinationLogin = byLogin[strings.ToLower(u.Username)]
			mapping.Confidence = ConfidenceMedium
			mapping.Method = MethodUsername
		case u.Name != "" && byName[normalizeName(u.Name)] != "":
			mapping.DestinationLogin = byName[normalizeName(u.Name)]
			mapping.Confidence = ConfidenceLow
			mapping.Method = MethodName
		default:
			if login, score := bestFuzzyMatch(u, destMembers); score >= fuzzyThreshold {
				mapping.DestinationLogin = login
				mapping.Confidence = ConfidenceLow
				mapping.Method = MethodFuzzy
			}
		}

		result.Mappings = append(result.Mappings, mapping)
		result.Stats.Total++
		switch mapping.Confidence {
		case ConfidenceHigh:
			result.Stats.High++
		case ConfidenceMedium:
			result.Stats.Medium++
		case ConfidenceLow:
			result.Stats.Low++
		default:
			result.Stats.Unmapped++
			result.UnmappedUsers = append(result.UnmappedUsers, u.Username)
		}
	}

	sort.Slice(result.Mappings, func(i, j int) bool {
		return result.Mappings[i].SourceUsername < result.Mappings[j].SourceUsername
	})
	sort.Strings(result.UnmappedUsers)
	return result
}

// bestFuzzyMatch scores every destination member against the source user's
// username and display name, returning the best login and score.
func bestFuzzyMatch(u sourceclient.Member, destMembers []destclient.OrgMember) (string, float64) {
	bestLogin, bestScore := "", 0.0
	for _, m := range destMembers {
		score := tokenSimilarity(u.Username, m.Login)
		if u.Name != "" && m.Name != "" {
			if s := tokenSimilarity(u.Name, m.Name); s > score {
				score = s
			}
		}
		if score > bestScore {
			bestScore = score
			bestLogin = m.Login
		}
	}
	return bestLogin, bestScore
}

// tokenSimilarity is a Jaccard index over name tokens, with a containment
// bonus for single-token prefix matches ("jdoe" vs "jdoe1").
func tokenSimilarity(a, b string) float64 {
	tokensA := nameTokens(a)
	tokensB := nameTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	setA := map[string]bool{}
	for _, t := range tokensA {
		setA[t] = true
	}
	intersection := 0
	setB := map[string]bool{}
	for _, t := range tokensB {
		if setA[t] && !setB[t] {
			intersection++
		}
		setB[t] = true
	}
	union := len(setA) + len(setB) - intersection
	jaccard := float64(intersection) / float64(union)

	if len(tokensA) == 1 && len(tokensB) == 1 {
		shorter, longer := tokensA[0], tokensB[0]
		if len(shorter) > len(longer) {
			shorter, longer = longer, shorter
		}
		if len(shorter) >= 4 && strings.HasPrefix(longer, shorter) {
			containment := float64(len(shorter)) / float64(len(longer))
			if containment > jaccard {
				return containment
			}
		}
	}
	return jaccard
}

func normalizeName(name string) string {
	return strings.Join(nameTokens(name), " ")
}

// nameTokens lowercases and splits an identifier on separators.
func nameTokens(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '.' || r == '-' || r == '_' || r == '@'
	})
}

// MappingFor returns the destination login for a source username, if mapped.
func (r *UserMappingResult) MappingFor(sourceUsername string) (string, bool) {
	for _, m := range r.Mappings {
		if m.SourceUsername == sourceUsername && m.DestinationLogin != "" {
			return m.DestinationLogin, true
		}
	}
	return "", false
}
