package intent

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

type DiseaseEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type InfoDomain struct {
	Domain  string   `yaml:"domain"`
	Phrases []string `yaml:"phrases"`
}

// Vocabulary holds the keyword tables the rule classifier and the workflow
// heuristics run against. It is plain data so deployments can override the
// built-in tables with their own YAML file.
type Vocabulary struct {
	Greetings     []string       `yaml:"greetings"`
	OutOfScope    []string       `yaml:"out_of_scope"`
	Symptoms      []string       `yaml:"symptoms"`
	Educational   []string       `yaml:"educational"`
	Urgency       []string       `yaml:"urgency"`
	Pronouns      []string       `yaml:"pronouns"`
	Diseases      []DiseaseEntry `yaml:"diseases"`
	InfoDomains   []InfoDomain   `yaml:"info_domains"`
	EyeKeywords   []string       `yaml:"eye_keywords"`
	WoundKeywords []string       `yaml:"wound_keywords"`
}

// LoadVocabulary reads a vocabulary YAML file, falling back to the embedded
// tables when path is empty.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data := defaultVocabulary
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = b
	}
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DefaultVocabulary returns the embedded tables. The embedded document is
// compiled in, so a parse failure is a programming error.
func DefaultVocabulary() *Vocabulary {
	v, err := LoadVocabulary("")
	if err != nil {
		panic("embedded vocabulary is invalid: " + err.Error())
	}
	return v
}

var wordSplit = regexp.MustCompile(`\P{L}+`)

// keywordInText reports whether kw occurs in the lowercased text. Very short
// keywords (three runes or fewer, e.g. "hi", "my", "nôn") only match as whole
// words so they do not fire inside unrelated words.
func keywordInText(lower, kw string) bool {
	kw = strings.ToLower(kw)
	if len([]rune(kw)) > 3 {
		return strings.Contains(lower, kw)
	}
	for _, w := range wordSplit.Split(lower, -1) {
		if w == kw {
			return true
		}
	}
	return false
}

func containsAny(lower string, kws []string) bool {
	for _, kw := range kws {
		if keywordInText(lower, kw) {
			return true
		}
	}
	return false
}

func matchAll(lower string, kws []string) []string {
	var out []string
	for _, kw := range kws {
		if keywordInText(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

// FindDisease scans for a known disease mention and returns the canonical
// name, preferring the longest matching alias.
func (v *Vocabulary) FindDisease(lower string) string {
	best := ""
	bestLen := 0
	for _, d := range v.Diseases {
		for _, alias := range append([]string{d.Name}, d.Aliases...) {
			if keywordInText(lower, alias) && len([]rune(alias)) > bestLen {
				best = d.Name
				bestLen = len([]rune(alias))
			}
		}
	}
	return best
}

// CanonicalDisease resolves a name or synonym to its canonical disease name.
// The second return is false when the vocabulary has no matching entry.
func (v *Vocabulary) CanonicalDisease(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range v.Diseases {
		if strings.ToLower(d.Name) == name {
			return d.Name, true
		}
		for _, alias := range d.Aliases {
			if strings.ToLower(alias) == name {
				return d.Name, true
			}
		}
	}
	return "", false
}

// InferInfoDomain picks the first information domain whose phrasing occurs in
// the text; domain order in the vocabulary is the priority order.
func (v *Vocabulary) InferInfoDomain(lower string) string {
	for _, dom := range v.InfoDomains {
		if containsAny(lower, dom.Phrases) {
			return dom.Domain
		}
	}
	return ""
}

// HasEducationalMarker reports whether the text carries explain/what-is style
// phrasing, regardless of how the message was classified.
func (v *Vocabulary) HasEducationalMarker(text string) bool {
	return containsAny(strings.ToLower(text), v.Educational)
}

// HasKeyword reports whether any of the given keywords occurs in the
// lowercased text.
func (v *Vocabulary) HasKeyword(lower string, kws []string) bool {
	return containsAny(lower, kws)
}

// HasMedicalTerm reports whether any clinical signal (symptom, urgency term
// or disease mention) occurs in the text.
func (v *Vocabulary) HasMedicalTerm(lower string) bool {
	return containsAny(lower, v.Symptoms) ||
		containsAny(lower, v.Urgency) ||
		v.FindDisease(lower) != ""
}
