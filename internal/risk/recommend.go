package risk

type recommendationRule struct {
	below    float64
	value    func(Components) float64
	messages []string
}

var recommendationRules = []recommendationRule{
	{
		below: 60,
		value: func(c Components) float64 { return c.Phishing },
		messages: []string{
			"Complete the phishing awareness training module",
			"Practise spotting phishing emails with additional simulations",
		},
	},
	{
		below:    70,
		value:    func(c Components) float64 { return c.TrainingCompletion },
		messages: []string{"Finish all assigned security training courses"},
	},
	{
		below:    50,
		value:    func(c Components) float64 { return c.TrainingRecency },
		messages: []string{"Take a refresher security awareness course"},
	},
	{
		below:    70,
		value:    func(c Components) float64 { return c.QuizPerformance },
		messages: []string{"Review the training material and retake failed quizzes"},
	},
	{
		below: 80,
		value: func(c Components) float64 { return c.SecurityIncidents },
		messages: []string{
			"Review the security policies with your manager",
			"Complete the incident response training",
		},
	},
	{
		below:    70,
		value:    func(c Components) float64 { return c.LoginAnomalies },
		messages: []string{"Review recent account activity and enable multi-factor authentication"},
	},
}

var criticalRecommendations = []string{
	"URGENT: Schedule an immediate one-on-one security awareness session",
	"URGENT: Restrict access to sensitive systems until remedial training is complete",
}

const positiveRecommendation = "Great job! Keep following security best practices"

// Recommend builds the ordered recommendation list for a scored user.
func Recommend(c Components, level Level) []string {
	var out []string
	if level == LevelCritical {
		out = append(out, criticalRecommendations...)
	}
	for _, r := range recommendationRules {
		if r.value(c) < r.below {
			out = append(out, r.messages...)
		}
	}
	if len(out) == 0 {
		return []string{positiveRecommendation}
	}
	return out
}
