package matcher

import (
	"sort"
	"strings"

	"draw-management-service/internal/models"

	"github.com/shopspring/decimal"
)

// SubScores breaks a candidate's composite score into its weighted parts
type SubScores struct {
	Amount    float64 `json:"amount"`
	Trade     float64 `json:"trade"`
	Keywords  float64 `json:"keywords"`
	Training  float64 `json:"training"`
	Composite float64 `json:"composite"`
}

// Candidate pairs a draw line with its match score against an invoice. The
// budget fields are carried from the line's budget so reviewers and the
// disambiguator see the category context the scores were computed against.
type Candidate struct {
	DrawLine       *models.DrawLine `json:"draw_line"`
	BudgetCategory string           `json:"budget_category,omitempty"`
	NAHBCategory   string           `json:"nahb_category,omitempty"`
	Scores         SubScores        `json:"scores"`
}

// TrainingSignal supplies the historical vendor-to-category signal learned
// from past confirmed matches. Implementations return a 0..1 affinity and
// whether any history exists for the vendor at all.
type TrainingSignal interface {
	VendorAffinity(vendorName, budgetCategory string) (score float64, known bool)
}

// Engine generates and scores match candidates
type Engine struct {
	config   *MatchingConfig
	training TrainingSignal
}

// NewEngine creates a matching engine. training may be nil; scores are then
// re-normalized over the remaining sub-scores.
func NewEngine(config *MatchingConfig, training TrainingSignal) *Engine {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &Engine{config: config, training: training}
}

// tradeKeywords maps construction trade categories to description vocabulary
var tradeKeywords = map[string][]string{
	"foundation":  {"concrete", "footing", "slab", "rebar", "excavation", "pour"},
	"framing":     {"lumber", "truss", "stud", "sheathing", "joist", "beam"},
	"electrical":  {"wiring", "panel", "breaker", "conduit", "fixture", "rough-in"},
	"plumbing":    {"pipe", "fixture", "drain", "water", "sewer", "rough-in"},
	"roofing":     {"shingle", "underlayment", "flashing", "gutter", "ridge"},
	"hvac":        {"duct", "furnace", "condenser", "thermostat", "ventilation"},
	"drywall":     {"sheetrock", "gypsum", "tape", "mud", "texture"},
	"painting":    {"paint", "primer", "caulk", "stain", "finish"},
	"flooring":    {"tile", "hardwood", "carpet", "vinyl", "subfloor", "grout"},
	"landscaping": {"grading", "sod", "irrigation", "planting", "mulch"},
}

// GenerateCandidates scores every open draw line against the invoice's
// extracted data and returns candidates sorted by composite score, best
// first. Each line is scored against its budget's category and NAHB code
// when the budget is present, with the line description as a fallback
// signal. Lines already matched to another invoice are excluded;
// zero-score lines are dropped, but sub-threshold candidates are kept so
// Classify can distinguish ambiguous sets from empty ones.
func (e *Engine) GenerateCandidates(invoice *models.Invoice, lines []*models.DrawLine, budgets []*models.Budget, matchedLineIDs map[string]struct{}) []Candidate {
	if invoice.Extracted == nil {
		return nil
	}

	budgetsByID := make(map[string]*models.Budget, len(budgets))
	for _, budget := range budgets {
		budgetsByID[budget.ID] = budget
	}

	var candidates []Candidate
	for _, line := range lines {
		if _, taken := matchedLineIDs[line.ID]; taken {
			continue
		}

		budget := budgetsByID[line.BudgetID]
		scores := e.score(invoice.Extracted, line, budget)
		if scores.Composite <= 0 {
			continue
		}
		candidate := Candidate{DrawLine: line, Scores: scores}
		if budget != nil {
			candidate.BudgetCategory = budget.Category
			candidate.NAHBCategory = budget.NAHBCategory
		}
		candidates = append(candidates, candidate)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Scores.Composite > candidates[j].Scores.Composite
	})
	return candidates
}

func (e *Engine) score(extracted *models.ExtractedInvoiceData, line *models.DrawLine, budget *models.Budget) SubScores {
	budgetCategory, nahbCategory := "", ""
	if budget != nil {
		budgetCategory = budget.Category
		nahbCategory = budget.NAHBCategory
	}

	scores := SubScores{
		Amount:   amountScore(extracted.Amount, line.AmountRequested),
		Trade:    tradeScore(extracted.ConstructionCategory, budgetCategory, nahbCategory, line.Description),
		Keywords: keywordScore(extracted, budgetCategory, line.Description),
	}

	affinityCategory := budgetCategory
	if affinityCategory == "" {
		affinityCategory = line.Description
	}
	trainingKnown := false
	if e.training != nil && extracted.VendorName != "" {
		if affinity, known := e.training.VendorAffinity(extracted.VendorName, affinityCategory); known {
			scores.Training = affinity
			trainingKnown = true
		}
	}

	composite := scores.Amount*e.config.AmountWeight +
		scores.Trade*e.config.TradeWeight +
		scores.Keywords*e.config.KeywordWeight

	if trainingKnown {
		composite += scores.Training * e.config.TrainingWeight
	} else {
		// spread the unused training weight over the observed sub-scores
		composite /= 1.0 - e.config.TrainingWeight
	}

	if composite > 1.0 {
		composite = 1.0
	}
	scores.Composite = composite
	return scores
}

// amountScore returns 1 minus the relative variance between the invoice and
// requested amounts, clamped to 0
func amountScore(invoiceAmount, requested decimal.Decimal) float64 {
	if !requested.IsPositive() {
		if invoiceAmount.IsZero() {
			return 1.0
		}
		return 0.0
	}

	relVar, _ := invoiceAmount.Sub(requested).Abs().Div(requested).Float64()
	score := 1.0 - relVar
	if score < 0 {
		return 0.0
	}
	return score
}

// tradeScore grades alignment between the invoice's construction category
// and the line's budget category or NAHB code, falling back to the draw
// line description when the budget carries no usable signal
func tradeScore(category, budgetCategory, nahbCategory, description string) float64 {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return 0.0
	}

	best := categoryAlignment(category, strings.ToLower(strings.TrimSpace(budgetCategory)))
	if nahb := strings.ToLower(strings.TrimSpace(nahbCategory)); nahb != "" && nahb == category {
		best = 1.0
	}
	if desc := categoryAlignment(category, strings.ToLower(strings.TrimSpace(description))); desc > best {
		best = desc
	}
	return best
}

// categoryAlignment compares two normalized category strings
func categoryAlignment(category, other string) float64 {
	if category == "" || other == "" {
		return 0.0
	}

	if category == other {
		return 1.0
	}
	if strings.Contains(other, category) || strings.Contains(category, other) {
		return 0.85
	}
	return tokenOverlap(category, other)
}

// keywordScore grades how much of the trade vocabulary appears in the
// invoice line items. The vocabulary is resolved from the budget category
// first, then the draw line description.
func keywordScore(extracted *models.ExtractedInvoiceData, budgetCategory, description string) float64 {
	vocab := keywordVocabulary(strings.ToLower(strings.TrimSpace(budgetCategory)))
	if len(vocab) == 0 {
		vocab = keywordVocabulary(strings.ToLower(strings.TrimSpace(description)))
	}
	if len(vocab) == 0 {
		return 0.0
	}

	text := strings.ToLower(strings.Join(extracted.LineItems, " "))
	if text == "" {
		return 0.0
	}

	hits := 0
	for _, word := range vocab {
		if strings.Contains(text, word) {
			hits++
		}
	}
	return float64(hits) / float64(len(vocab))
}

// keywordVocabulary resolves the trade vocabulary for a category or
// description string
func keywordVocabulary(text string) []string {
	if text == "" {
		return nil
	}
	for trade, words := range tradeKeywords {
		if strings.Contains(text, trade) {
			return words
		}
	}
	return nil
}

// tokenOverlap returns the fraction of tokens the two strings share
func tokenOverlap(a, b string) float64 {
	aTokens := strings.Fields(a)
	bTokens := strings.Fields(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0.0
	}

	bSet := make(map[string]struct{}, len(bTokens))
	for _, t := range bTokens {
		bSet[t] = struct{}{}
	}

	shared := 0
	for _, t := range aTokens {
		if _, ok := bSet[t]; ok {
			shared++
		}
	}

	denom := len(aTokens)
	if len(bTokens) > denom {
		denom = len(bTokens)
	}
	return float64(shared) / float64(denom)
}
