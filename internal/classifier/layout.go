package classifier

import (
	"bufio"
	"os"
	"strings"

	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/errors"
)

// Layout interprets a model's output vector.
type Layout interface {
	// Family names the model family for logs and error context.
	Family() string
	// Classes is the expected output length, or 0 when any length is accepted.
	Classes() int
	// Score reduces the probabilities to one category and score. label names
	// the class that contributed most.
	Score(probs []float32) (category detection.Category, score float32, label string)
}

// Output order of the five-class explicit content model.
var explicitClasses = [5]string{"drawing", "hentai", "neutral", "porn", "sexy"}

// ExplicitLayout reads the five-class [drawing, hentai, neutral, porn, sexy]
// model. Its score is the composite hentai + porn + sexy.
type ExplicitLayout struct{}

func (ExplicitLayout) Family() string { return "explicit-5class" }

func (ExplicitLayout) Classes() int { return len(explicitClasses) }

func (ExplicitLayout) Score(probs []float32) (detection.Category, float32, string) {
	var sum, best float32
	label := ""
	for _, i := range []int{1, 3, 4} {
		sum += probs[i]
		if probs[i] > best {
			best, label = probs[i], explicitClasses[i]
		}
	}
	return detection.CategoryExplicit, min(sum, 1), label
}

// DefaultObjectTargets are the object labels treated as intoxicant references.
var DefaultObjectTargets = map[string]detection.Category{
	"bottle":     detection.CategoryIntoxicant,
	"wine glass": detection.CategoryIntoxicant,
	"cup":        detection.CategoryIntoxicant,
	"cigarette":  detection.CategoryIntoxicant,
}

// LabelLayout reads an object-label model whose output has one probability
// per label. The score is the highest probability among the target labels.
type LabelLayout struct {
	labels  []string
	targets map[string]detection.Category
}

// NewLabelLayout builds a layout over labels. Target names are matched case
// insensitively.
func NewLabelLayout(labels []string, targets map[string]detection.Category) *LabelLayout {
	t := make(map[string]detection.Category, len(targets))
	for k, v := range targets {
		t[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &LabelLayout{labels: labels, targets: t}
}

func (l *LabelLayout) Family() string { return "object-labels" }

func (l *LabelLayout) Classes() int { return len(l.labels) }

func (l *LabelLayout) Score(probs []float32) (detection.Category, float32, string) {
	category, label := detection.CategoryUnknown, ""
	var best float32
	for i, p := range probs {
		if i >= len(l.labels) {
			break
		}
		c, ok := l.targets[strings.ToLower(l.labels[i])]
		if ok && p > best {
			best, category, label = p, c, l.labels[i]
		}
	}
	return category, best, label
}

// LoadLabels reads one label per line. Blank lines are skipped.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("path", path).
			Build()
	}
	if len(labels) == 0 {
		return nil, errors.Newf("label file %s is empty", path).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Build()
	}
	return labels, nil
}
