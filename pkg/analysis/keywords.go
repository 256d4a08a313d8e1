package analysis

import "strings"

// stopWords filtered out of topic keywords.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(
		"the a an and or but in on at to for of with by is are was were be been being " +
			"have has had do does did will would could should may might must shall can " +
			"about from into through during before after above below between under over " +
			"out up down off then than so as if when where why how what which who whom " +
			"this that these those its") {
		stopWords[w] = struct{}{}
	}
}

const maxKeywords = 7

// topicKeywords derives disambiguation keywords for a discussion from its
// title and, when available, its first message. No model call: these only
// help the prompt distinguish active discussions.
func topicKeywords(title, firstMessage string) []string {
	seen := map[string]struct{}{}
	var keywords []string

	add := func(word string, minLen int) {
		word = strings.Trim(word, ".,!?()[]{}:;")
		if len(word) <= minLen {
			return
		}
		if _, stop := stopWords[word]; stop {
			return
		}
		if _, dup := seen[word]; dup {
			return
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
	}

	clean := strings.NewReplacer("'", "", `"`, "")
	for _, w := range strings.Fields(strings.ToLower(clean.Replace(title))) {
		add(w, 2)
	}

	if firstMessage != "" {
		words := strings.Fields(strings.ToLower(clean.Replace(firstMessage)))
		if len(words) > 20 {
			words = words[:20]
		}
		added := 0
		for _, w := range words {
			if added >= 3 {
				break
			}
			before := len(keywords)
			add(w, 3)
			if len(keywords) > before {
				added++
			}
		}
	}

	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}
